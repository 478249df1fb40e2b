package main

import (
	"context"
	"fmt"
	"ipset-session/blocker"
	"ipset-session/ipset"
	"ipset-session/route"
	"ipset-session/utils"
	"strconv"

	"go.uber.org/zap"
)

type command struct {
	Function    func(a *app, args []string) (bool, error)
	Usage       string
	Description string
	MinArgs     int
	MaxArgs     int
}

var commands = map[string]command{
	"version":  {cmdVersion, "", "prints the backend version", 0, 0},
	"name":     {cmdName, "<uuid>", "prints the four set names of an identifier", 1, 1},
	"create":   {cmdCreate, "<set> <type> <inet|inet6> [timeout]", "creates a set", 3, 4},
	"exists":   {cmdExists, "<set>", "checks whether a set exists", 1, 1},
	"destroy":  {cmdDestroy, "<set>", "destroys a set", 1, 1},
	"flush":    {cmdFlush, "<set> <inet|inet6>", "removes every member of a set", 2, 2},
	"list":     {cmdList, "<set> <inet|inet6>", "lists the members of a set", 2, 2},
	"add":      {cmdAdd, "<set> <member> [timeout]", "adds or refreshes a member", 2, 3},
	"del":      {cmdDel, "<set> <member>", "removes a member", 2, 2},
	"test":     {cmdTest, "<set> <member>", "tests membership", 2, 2},
	"init":     {cmdInit, "", "loads the lists and installs the firewall rules", 0, 0},
	"clean":    {cmdClean, "", "removes the firewall rules and sets", 0, 0},
	"ban":      {cmdBan, "<ip> [timeout]", "adds an address to the black set", 1, 2},
	"unban":    {cmdUnBan, "<ip>", "removes an address from the black set", 1, 1},
	"allow":    {cmdAllow, "<ip>", "adds an address to the white set", 1, 1},
	"disallow": {cmdDisallow, "<ip>", "removes an address from the white set", 1, 1},
	"banned":   {cmdBanned, "<ip>", "checks whether an address is banned", 1, 1},
}

func parseFamily(s string) (bool, error) {
	switch s {
	case "inet", "ipv4", "4":
		return true, nil
	case "inet6", "ipv6", "6":
		return false, nil
	}
	return false, fmt.Errorf("invalid family:%s", s)
}

func parseTimeout(args []string, idx int) (uint32, error) {
	if len(args) <= idx {
		return 0, nil
	}
	if args[idx] == "permanent" {
		return ipset.Permanent, nil
	}
	v, err := strconv.ParseUint(args[idx], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout:%s, err:%w", args[idx], err)
	}
	return uint32(v), nil
}

// memberSession opens set with the family implied by the member.
func memberSession(a *app, set string, member string) (*ipset.Session, ipset.Member, error) {
	m, err := ipset.ParseMember(member)
	if err != nil {
		return nil, ipset.Member{}, err
	}
	s, err := a.open(set, "", m.Kind() != ipset.KindIPv6)
	if err != nil {
		return nil, ipset.Member{}, err
	}
	return s, m, nil
}

func report(ok bool, format string, args ...interface{}) (bool, error) {
	state := "ok"
	if !ok {
		state = "failed"
	}
	fmt.Printf(format+": %s\n", append(args, state)...)
	return ok, nil
}

func cmdVersion(a *app, _ []string) (bool, error) {
	s := ipset.NewSession(ipset.WithDialer(a.dialer()), ipset.WithLogger(a.logkit))
	if err := s.Open("version", "", true); err != nil {
		return false, err
	}
	defer s.Close()
	v, err := s.Version()
	if err != nil {
		return false, err
	}
	fmt.Println(v)
	return true, nil
}

func cmdName(_ *app, args []string) (bool, error) {
	for _, src := range []bool{true, false} {
		for _, v4 := range []bool{true, false} {
			fmt.Println(ipset.SetName(args[0], src, v4))
		}
	}
	return true, nil
}

func cmdCreate(a *app, args []string) (bool, error) {
	isIPv4, err := parseFamily(args[2])
	if err != nil {
		return false, err
	}
	var timeout *uint32
	if len(args) > 3 {
		t, err := parseTimeout(args, 3)
		if err != nil {
			return false, err
		}
		timeout = &t
	}
	s, err := a.open(args[0], args[1], isIPv4)
	if err != nil {
		return false, err
	}
	defer s.Close()
	return report(s.Create(timeout, false), "create %s %s", args[0], args[1])
}

func cmdExists(a *app, args []string) (bool, error) {
	s, err := a.open(args[0], "", true)
	if err != nil {
		return false, err
	}
	defer s.Close()
	rs := s.ExistsResult()
	fmt.Printf("set %s: %s\n", args[0], rs.String())
	return rs.OK(), nil
}

func cmdDestroy(a *app, args []string) (bool, error) {
	s, err := a.open(args[0], "", true)
	if err != nil {
		return false, err
	}
	defer s.Close()
	return report(s.Destroy(), "destroy %s", args[0])
}

func cmdFlush(a *app, args []string) (bool, error) {
	isIPv4, err := parseFamily(args[1])
	if err != nil {
		return false, err
	}
	s, err := a.open(args[0], "", isIPv4)
	if err != nil {
		return false, err
	}
	defer s.Close()
	return report(s.Flush(), "flush %s", args[0])
}

func cmdList(a *app, args []string) (bool, error) {
	isIPv4, err := parseFamily(args[1])
	if err != nil {
		return false, err
	}
	s, err := a.open(args[0], "", isIPv4)
	if err != nil {
		return false, err
	}
	defer s.Close()
	members, ok := s.Members()
	if !ok {
		return report(false, "list %s", args[0])
	}
	for _, m := range members {
		fmt.Println(m.String())
	}
	return true, nil
}

func cmdAdd(a *app, args []string) (bool, error) {
	timeout, err := parseTimeout(args, 2)
	if err != nil {
		return false, err
	}
	s, m, err := memberSession(a, args[0], args[1])
	if err != nil {
		return false, err
	}
	defer s.Close()
	rs := s.AddResult(m, timeout)
	fmt.Printf("add %s %s: %s\n", args[0], m.String(), rs.String())
	return rs.OK(), nil
}

func cmdDel(a *app, args []string) (bool, error) {
	s, m, err := memberSession(a, args[0], args[1])
	if err != nil {
		return false, err
	}
	defer s.Close()
	rs := s.RemoveResult(m)
	fmt.Printf("del %s %s: %s\n", args[0], m.String(), rs.String())
	return rs.OK(), nil
}

func cmdTest(a *app, args []string) (bool, error) {
	s, m, err := memberSession(a, args[0], args[1])
	if err != nil {
		return false, err
	}
	defer s.Close()
	rs := s.InResult(m)
	fmt.Printf("test %s %s: %s\n", args[0], m.String(), rs.String())
	return rs.OK(), nil
}

func (a *app) newBlocker() (blocker.IBlocker, error) {
	opts := []blocker.Option{
		blocker.WithDialer(a.dialer()),
		blocker.WithEnableIPv6(a.c.EnableIPv6),
		blocker.WithViewMode(a.c.ViewMode),
		blocker.WithDebug(a.c.Debug),
		blocker.WithProtectedNetworks(a.c.ProtectedNetworks),
		blocker.WithDisableLocalNetworkProtect(!a.c.ByPassLocalNetwork),
	}
	if len(a.c.BlackListID) > 0 {
		opts = append(opts, blocker.WithBlackListID(a.c.BlackListID))
	}
	if len(a.c.WhiteListID) > 0 {
		opts = append(opts, blocker.WithWhiteListID(a.c.WhiteListID))
	}
	if len(a.c.Chain) > 0 {
		opts = append(opts, blocker.WithChain(a.c.Chain))
	}
	if a.c.BanTimeout > 0 {
		opts = append(opts, blocker.WithBanTimeout(a.c.BanTimeout))
	}
	return blocker.NewBlocker(opts...)
}

func detectValidInterface(netcard string) (string, error) {
	if len(netcard) > 0 {
		return netcard, nil
	}
	return route.DetectExitInterface(true)
}

// readLocalMembers returns the host addresses so a ban can never lock us out.
func (a *app) readLocalMembers() ([]ipset.Member, error) {
	iface, err := detectValidInterface(a.c.Interface)
	if err != nil {
		return nil, err
	}
	families := []bool{true}
	if a.c.EnableIPv6 {
		families = append(families, false)
	}
	rs := make([]ipset.Member, 0, 4)
	for _, isIPv4 := range families {
		ips, err := route.ReadLocalIPs(iface, isIPv4)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			rs = append(rs, ipset.AddrMember(ip))
		}
	}
	a.logkit.Info("read local address succ", zap.String("interface", iface), zap.Int("count", len(rs)))
	return rs, nil
}

func cmdInit(a *app, _ []string) (bool, error) {
	ctx := context.Background()
	blackList, err := utils.ReadMemberListFromFiles(a.c.UserBlackListFiles)
	if err != nil {
		return false, fmt.Errorf("read user black list failed, err:%w", err)
	}
	whiteList, err := utils.ReadMemberListFromFiles(a.c.UserWhiteListFiles)
	if err != nil {
		return false, fmt.Errorf("read user white list failed, err:%w", err)
	}
	if a.c.ByPassLocalNetwork {
		local, err := a.readLocalMembers()
		if err != nil {
			a.logkit.Error("read local address failed, skip", zap.Error(err))
		}
		whiteList = append(whiteList, local...)
	}
	blackList = utils.MemberSliceDedup(blackList)
	whiteList = utils.MemberSliceDedup(whiteList)
	a.logkit.Info("read white/black members succ",
		zap.Int("user_black_members", len(blackList)),
		zap.Int("user_white_members", len(whiteList)),
	)
	bk, err := a.newBlocker()
	if err != nil {
		return false, err
	}
	defer bk.Close()
	if err := bk.Init(ctx, blackList, whiteList); err != nil {
		return false, err
	}
	return true, nil
}

func cmdClean(a *app, _ []string) (bool, error) {
	bk, err := a.newBlocker()
	if err != nil {
		return false, err
	}
	defer bk.Close()
	if err := bk.Destroy(context.Background()); err != nil {
		return false, err
	}
	return true, nil
}

func withBlocker(a *app, fn func(ctx context.Context, bk blocker.IBlocker) error) (bool, error) {
	bk, err := a.newBlocker()
	if err != nil {
		return false, err
	}
	defer bk.Close()
	if err := fn(context.Background(), bk); err != nil {
		return false, err
	}
	return true, nil
}

func cmdBan(a *app, args []string) (bool, error) {
	timeout, err := parseTimeout(args, 1)
	if err != nil {
		return false, err
	}
	return withBlocker(a, func(ctx context.Context, bk blocker.IBlocker) error {
		return bk.BanIP(ctx, args[0], timeout)
	})
}

func cmdUnBan(a *app, args []string) (bool, error) {
	return withBlocker(a, func(ctx context.Context, bk blocker.IBlocker) error {
		return bk.UnBanIP(ctx, args[0])
	})
}

func cmdAllow(a *app, args []string) (bool, error) {
	return withBlocker(a, func(ctx context.Context, bk blocker.IBlocker) error {
		return bk.WhiteIP(ctx, args[0])
	})
}

func cmdDisallow(a *app, args []string) (bool, error) {
	return withBlocker(a, func(ctx context.Context, bk blocker.IBlocker) error {
		return bk.UnWhiteIP(ctx, args[0])
	})
}

func cmdBanned(a *app, args []string) (bool, error) {
	var banned bool
	ok, err := withBlocker(a, func(ctx context.Context, bk blocker.IBlocker) error {
		v, err := bk.IsBanned(ctx, args[0])
		banned = v
		return err
	})
	if err != nil {
		return ok, err
	}
	fmt.Printf("%s banned: %t\n", args[0], banned)
	return banned, nil
}
