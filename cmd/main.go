package main

import (
	"flag"
	"fmt"
	"ipset-session/config"
	"ipset-session/ipset"
	"log"
	"os"
	"sort"

	"github.com/xxxsen/common/logger"
	"go.uber.org/zap"
)

var (
	conf    = flag.String("config", "", "config file, defaults are used when empty")
	backend = flag.String("backend", "", "override backend: netlink|ipset|memory")
	debug   = flag.Bool("debug", false, "enable debug logs")
)

type app struct {
	c      *config.Config
	logkit *zap.Logger
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	c, err := config.Parse(*conf)
	if err != nil {
		log.Fatalf("parse config failed, err:%v", err)
	}
	if len(*backend) > 0 {
		c.Backend = *backend
		if err := c.Validate(); err != nil {
			log.Fatalf("invalid backend flag, err:%v", err)
		}
	}
	if *debug {
		c.Debug = true
		c.LogConfig.Level = "debug"
	}
	logkit := logger.Init(c.LogConfig.File, c.LogConfig.Level, int(c.LogConfig.FileCount), int(c.LogConfig.FileSize), int(c.LogConfig.KeepDays), c.LogConfig.Console)

	name := args[0]
	args = args[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command '%s'\n\n", name)
		printUsage()
		os.Exit(2)
	}
	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		fmt.Printf("Invalid number of arguments for '%s'. expected=%d..%d given=%d\n", name, cmd.MinArgs, cmd.MaxArgs, len(args))
		os.Exit(2)
	}
	a := &app{c: c, logkit: logkit}
	ok, err = cmd.Function(a, args)
	if err != nil {
		logkit.Fatal("run command failed", zap.String("cmd", name), zap.Error(err))
	}
	if !ok {
		os.Exit(1)
	}
}

func (a *app) dialer() ipset.Dialer {
	switch a.c.Backend {
	case config.BackendCmd:
		return ipset.CmdDialer(a.c.IpsetBin)
	case config.BackendMemory:
		return ipset.MemoryDialer(ipset.NewMemoryStore())
	}
	return ipset.NetlinkDialer
}

func (a *app) open(set string, typ string, isIPv4 bool) (*ipset.Session, error) {
	return ipset.Open(set, typ, isIPv4,
		ipset.WithDialer(a.dialer()),
		ipset.WithDebug(a.c.Debug),
		ipset.WithLogger(a.logkit),
	)
}

func printUsage() {
	fmt.Printf("Usage: %s [-flags] COMMAND [args]\n\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("Available commands:")
	for _, name := range names {
		fmt.Printf("  %-10v %-34s %s\n", name, commands[name].Usage, commands[name].Description)
	}
	fmt.Println("\nAvailable flags:")
	flag.PrintDefaults()
}
