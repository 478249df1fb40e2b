package ipset

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var (
	defaultVersionRegexp = regexp.MustCompile(`ipset\s+(v.*),\s+protocol\s+version:\s+(.*)`)
	errNoIpsetData       = errors.New("invalid ipset output struct, no ipset data")
)

type cmdConfig struct {
	params []string
}

func (c *cmdConfig) addParam(ps ...string) {
	c.params = append(c.params, ps...)
}

type cmdOption func(c *cmdConfig)

func withExist() cmdOption {
	return func(c *cmdConfig) {
		c.addParam("-exist")
	}
}

// -exist | -output { plain | save | xml } | -quiet | -resolve | -sorted | -name |  -terse  |  -file filename
func withOutput(typ OutputType) cmdOption {
	return func(c *cmdConfig) {
		c.addParam("-output", string(typ))
	}
}

func withTerse() cmdOption {
	return func(c *cmdConfig) {
		c.addParam("-terse")
	}
}

func applyCmdOpts(opts ...cmdOption) *cmdConfig {
	c := &cmdConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errPack struct {
	err    error
	stdout []byte
	stderr []byte
}

// asError keeps the ipset diagnostic text, it is what normalizeErr matches on.
func (p *errPack) asError() error {
	if p.err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(p.stderr))
	if len(msg) == 0 {
		return p.err
	}
	return normalizeErr(fmt.Errorf("%s, err:%w", msg, p.err))
}

type cmdConn struct {
	path string
}

// CmdDialer forks the ipset binary for every request. An empty bin looks
// ipset up in PATH.
func CmdDialer(bin string) Dialer {
	return func() (Conn, error) {
		if len(bin) == 0 {
			bin = "ipset"
		}
		path, err := exec.LookPath(bin)
		if err != nil {
			return nil, fmt.Errorf("lookup ipset command failed, err:%w", err)
		}
		return &cmdConn{path: path}, nil
	}
}

func (s *cmdConn) runCmd(c *cmdConfig, args ...string) *errPack {
	if len(c.params) > 0 {
		newArgs := make([]string, 0, len(args)+len(c.params))
		newArgs = append(newArgs, args...)
		newArgs = append(newArgs, c.params...)
		args = newArgs
	}
	cmd := exec.Command(s.path, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	info := &errPack{
		err:    err,
		stdout: stdout.Bytes(),
		stderr: stderr.Bytes(),
	}
	return info
}

func (s *cmdConn) runCmdNoData(c *cmdConfig, args ...string) error {
	return s.runCmd(c, args...).asError()
}

func (s *cmdConn) listXML(set string, opts ...cmdOption) (*xmlIpset, error) {
	opts = append(opts, withOutput(OutputTypeXml))
	pack := s.runCmd(applyCmdOpts(opts...), "list", set)
	if err := pack.asError(); err != nil {
		return nil, err
	}
	return parseXMLSet(pack.stdout)
}

func (s *cmdConn) Header(set string) (*Header, error) {
	ipset, err := s.listXML(set, withTerse())
	if err != nil {
		return nil, err
	}
	return &Header{
		Name:       ipset.Name,
		Type:       ipset.Type,
		Family:     ipset.Header.Family,
		HashSize:   ipset.Header.Hashsize,
		MaxElem:    ipset.Header.Maxelem,
		References: ipset.Header.References,
		NumEntries: ipset.Header.Numentries,
	}, nil
}

func (s *cmdConn) Create(set string, typ string, opts CreateOptions) error {
	args := []string{"create", set, typ}
	if !isMACType(typ) {
		args = append(args, "family", familyName(opts.Family))
	}
	if opts.Timeout != nil {
		args = append(args, "timeout", formatTimeout(*opts.Timeout))
	}
	var copts []cmdOption
	if opts.Exist {
		copts = append(copts, withExist())
	}
	return s.runCmdNoData(applyCmdOpts(copts...), args...)
}

func (s *cmdConn) Destroy(set string) error {
	return s.runCmdNoData(applyCmdOpts(), "destroy", set)
}

func (s *cmdConn) Flush(set string) error {
	return s.runCmdNoData(applyCmdOpts(), "flush", set)
}

func (s *cmdConn) Swap(set string, other string) error {
	return s.runCmdNoData(applyCmdOpts(), "swap", set, other)
}

func (s *cmdConn) Add(set string, e *Entry) error {
	args := []string{"add", set, e.String()}
	if e.Timeout != nil {
		args = append(args, "timeout", formatTimeout(*e.Timeout))
	}
	return s.runCmdNoData(applyCmdOpts(withExist()), args...)
}

func (s *cmdConn) Del(set string, e *Entry) error {
	return s.runCmdNoData(applyCmdOpts(), "del", set, e.String())
}

func (s *cmdConn) Test(set string, e *Entry) (bool, error) {
	pack := s.runCmd(applyCmdOpts(), "test", set, e.String())
	if pack.err == nil {
		return bytes.Contains(pack.stderr, []byte("is in set")), nil
	}
	if bytes.Contains(pack.stderr, []byte("is NOT in")) {
		return false, nil
	}
	return false, pack.asError()
}

func (s *cmdConn) List(set string) ([]Member, error) {
	ipset, err := s.listXML(set)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(ipset.Members.Member))
	for _, item := range ipset.Members.Member {
		m, err := ParseMember(item.Elem)
		if err != nil {
			return nil, fmt.Errorf("parse member failed, err:%w", err)
		}
		members = append(members, m)
	}
	return members, nil
}

// Version reports the ipset userspace and protocol versions.
func (s *cmdConn) Version() (string, error) {
	pack := s.runCmd(applyCmdOpts(), "version")
	if pack.err != nil {
		return "", pack.err
	}
	out := defaultVersionRegexp.FindStringSubmatch(string(pack.stdout))
	if len(out) != 3 {
		return "", fmt.Errorf("invalid version format:%s", string(pack.stdout))
	}
	return fmt.Sprintf("ipset %s, protocol %s", out[1], out[2]), nil
}

func (s *cmdConn) Close() error {
	return nil
}
