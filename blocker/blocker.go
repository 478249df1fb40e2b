package blocker

import (
	"context"
	"errors"
	"fmt"
	"ipset-session/ipset"
	"net"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var (
	ErrProtectedIP = errors.New("ip is in protected network")
	ErrFamily      = errors.New("ip family not enabled")
	ErrSetConflict = errors.New("set names conflict")
)

type IBlocker interface {
	Init(ctx context.Context, blackips []ipset.Member, whiteips []ipset.Member) error
	Destroy(ctx context.Context) error
	BanIP(ctx context.Context, ip string, timeout uint32) error
	UnBanIP(ctx context.Context, ip string) error
	WhiteIP(ctx context.Context, ip string) error
	UnWhiteIP(ctx context.Context, ip string) error
	IsBanned(ctx context.Context, ip string) (bool, error)
	Close() error
}

// familyBlocker holds the sets and rules of one address family.
type familyBlocker struct {
	isIPv4 bool
	ipt    ruleTable
	black  *ipset.Session
	white  *ipset.Session
}

type defaultBlocker struct {
	c        *config
	filter   *ipNetFilter
	families []*familyBlocker
}

func NewBlocker(opts ...Option) (IBlocker, error) {
	c := applyOpts(opts...)
	filter := newIPNetFilter()
	if !c.noLocalProtect {
		if err := filter.AddRule(defaultLocalNetworks...); err != nil {
			return nil, fmt.Errorf("add local network rules failed, err:%w", err)
		}
	}
	if err := filter.AddRule(c.protected...); err != nil {
		return nil, fmt.Errorf("add protected network rules failed, err:%w", err)
	}
	b := &defaultBlocker{c: c, filter: filter}
	if err := b.checkSetNames(); err != nil {
		return nil, err
	}
	families := []bool{true}
	if c.enableIPv6 {
		families = append(families, false)
	}
	for _, isIPv4 := range families {
		fb, err := b.newFamilyBlocker(isIPv4)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.families = append(b.families, fb)
	}
	return b, nil
}

func (f *defaultBlocker) newFamilyBlocker(isIPv4 bool) (*familyBlocker, error) {
	ipt, err := f.c.tableFactory(isIPv4)
	if err != nil {
		return nil, err
	}
	fb := &familyBlocker{isIPv4: isIPv4, ipt: ipt}
	if fb.black, err = f.openSession(f.getBlackSet(isIPv4), isIPv4); err != nil {
		return nil, err
	}
	if fb.white, err = f.openSession(f.getWhiteSet(isIPv4), isIPv4); err != nil {
		_ = fb.black.Close()
		return nil, err
	}
	return fb, nil
}

func (f *defaultBlocker) openSession(name string, isIPv4 bool) (*ipset.Session, error) {
	return ipset.Open(name, string(ipset.SetTypeHashNet), isIPv4,
		ipset.WithDialer(f.c.dialer),
		ipset.WithDebug(f.c.debug),
		ipset.WithLogger(logutil.GetLogger(context.Background())),
	)
}

func (f *defaultBlocker) getBlackSet(isIPv4 bool) string {
	return ipset.SetName(f.c.blackID, true, isIPv4)
}

func (f *defaultBlocker) getWhiteSet(isIPv4 bool) string {
	return ipset.SetName(f.c.whiteID, true, isIPv4)
}

func (f *defaultBlocker) getTmpSet(name string, isIPv4 bool) string {
	return ipset.SetName("tmp_"+ipset.SetToken(name), true, isIPv4)
}

// checkSetNames makes sure the black and white lists, including their
// staging sets, never resolve to the same kernel set.
func (f *defaultBlocker) checkSetNames() error {
	for _, isIPv4 := range []bool{true, false} {
		black := f.getBlackSet(isIPv4)
		white := f.getWhiteSet(isIPv4)
		names := []string{black, white, f.getTmpSet(black, isIPv4), f.getTmpSet(white, isIPv4)}
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if _, ok := seen[name]; ok {
				return fmt.Errorf("black id:%s, white id:%s, set:%s, err:%w", f.c.blackID, f.c.whiteID, name, ErrSetConflict)
			}
			seen[name] = struct{}{}
		}
	}
	return nil
}

func (f *defaultBlocker) getCageChain() string {
	return f.c.chain
}

func (f *defaultBlocker) family(m ipset.Member) (*familyBlocker, error) {
	for _, fb := range f.families {
		if fb.isIPv4 == (m.Kind() == ipset.KindIPv4) {
			return fb, nil
		}
	}
	return nil, fmt.Errorf("member:%s, err:%w", m.String(), ErrFamily)
}

func (f *defaultBlocker) parseIP(ip string) (ipset.Member, *familyBlocker, error) {
	nip := net.ParseIP(ip)
	if nip == nil {
		return ipset.Member{}, nil, fmt.Errorf("parse ip failed, ip:%s", ip)
	}
	m := ipset.AddrMember(nip)
	fb, err := f.family(m)
	if err != nil {
		return ipset.Member{}, nil, err
	}
	return m, fb, nil
}

// ensureIPSet fills a staging set and swaps it in, so the live set never
// shows a partial list.
func (f *defaultBlocker) ensureIPSet(ctx context.Context, sess *ipset.Session, members []ipset.Member) error {
	timeout := uint32(0)
	if !sess.Create(&timeout, true) {
		return fmt.Errorf("create ip set:%s failed", sess.Name())
	}
	tmp, err := f.openSession(f.getTmpSet(sess.Name(), sess.IsIPv4()), sess.IsIPv4())
	if err != nil {
		return fmt.Errorf("open ip tmp set failed, err:%w", err)
	}
	defer tmp.Close()
	_ = tmp.Destroy()
	if !tmp.Create(&timeout, false) {
		return fmt.Errorf("create ip tmp set:%s failed", tmp.Name())
	}
	defer tmp.Destroy()
	for _, m := range members {
		if rs := tmp.AddResult(m, ipset.Permanent); !rs.OK() {
			return fmt.Errorf("add member:%s to set failed, result:%s", m.String(), rs.String())
		}
	}
	if !tmp.Swap(sess.Name()) {
		return fmt.Errorf("swap set:%s failed", sess.Name())
	}
	logutil.GetLogger(ctx).Debug("ensure ip set succ", zap.String("set", sess.Name()), zap.Int("members", len(members)))
	return nil
}

func (f *defaultBlocker) ensureIPTable(_ context.Context, fb *familyBlocker) error {
	table := "filter"
	chain := f.getCageChain()
	blackset := fb.black.Name()
	whiteset := fb.white.Name()
	ok, err := fb.ipt.ChainExists(table, chain)
	if err != nil {
		return err
	}
	if !ok {
		if err := fb.ipt.NewChain(table, chain); err != nil {
			return err
		}
	}

	rules := []struct {
		name string
		args []string
	}{
		{
			name: "skip whitelist",
			args: []string{"-m", "set", "--match-set", whiteset, "src", "-j", "RETURN"},
		},
		{
			name: "allow established",
			args: []string{"-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
		},
		{
			name: "drop traffic",
			args: []string{"-m", "set", "--match-set", blackset, "src", "-j", "DROP"},
		},
		{
			name: "return origin",
			args: []string{"-j", "RETURN"},
		},
	}
	for _, rule := range rules {
		if err := fb.ipt.AppendUnique(table, chain, rule.args...); err != nil {
			return fmt.Errorf("create rule:%s failed, err:%w", rule.name, err)
		}
	}
	if err = fb.ipt.InsertUnique(table, "INPUT", 1, "-j", chain); err != nil {
		return fmt.Errorf("inset to input chains failed, err:%w", err)
	}
	return nil
}

func (f *defaultBlocker) Destroy(ctx context.Context) error {
	table := "filter"
	chain := f.getCageChain()
	for _, fb := range f.families {
		if err := fb.ipt.DeleteIfExists(table, "INPUT", "-j", chain); err != nil {
			if !strings.Contains(err.Error(), "does not exist") {
				logutil.GetLogger(ctx).Error("delete chain jump rule failed", zap.Bool("ipv4", fb.isIPv4), zap.Error(err))
				return err
			}
		}
		if err := fb.ipt.ClearAndDeleteChain(table, chain); err != nil {
			return fmt.Errorf("clean and delete chain failed, err:%w", err)
		}
		// sets can only go once no rule references them, missing sets are fine.
		for _, sess := range []*ipset.Session{fb.black, fb.white} {
			if rs := sess.DestroyResult(); !rs.OK() && rs != ipset.ResultSetMissing {
				logutil.GetLogger(ctx).Debug("destroy ip set failed", zap.String("set", sess.Name()), zap.String("result", rs.String()))
			}
		}
	}
	return nil
}

func (f *defaultBlocker) splitByFamily(ctx context.Context, members []ipset.Member, isIPv4 bool) []ipset.Member {
	rs := make([]ipset.Member, 0, len(members))
	for _, m := range members {
		if !m.IsAddr() {
			logutil.GetLogger(ctx).Warn("skip non address member", zap.String("member", m.String()))
			continue
		}
		if (m.Kind() == ipset.KindIPv4) != isIPv4 {
			continue
		}
		rs = append(rs, m)
	}
	return rs
}

func (f *defaultBlocker) Init(ctx context.Context, blackIps []ipset.Member, whiteIps []ipset.Member) error {
	if err := f.Destroy(ctx); err != nil { //先进行预处理
		return fmt.Errorf("destroy before init failed, err:%w", err)
	}
	blackList := make([]ipset.Member, 0, len(blackIps))
	for _, m := range blackIps {
		if f.filter.ContainsMember(m) {
			logutil.GetLogger(ctx).Warn("skip protected black member", zap.String("member", m.String()))
			continue
		}
		blackList = append(blackList, m)
	}
	for _, fb := range f.families {
		if err := f.ensureIPSet(ctx, fb.white, f.splitByFamily(ctx, whiteIps, fb.isIPv4)); err != nil {
			return fmt.Errorf("ensure white ip set failed, err:%w", err)
		}
		if err := f.ensureIPSet(ctx, fb.black, f.splitByFamily(ctx, blackList, fb.isIPv4)); err != nil {
			return fmt.Errorf("ensure black ip set failed, err:%w", err)
		}
		if err := f.ensureIPTable(ctx, fb); err != nil {
			return err
		}
	}
	logutil.GetLogger(ctx).Info("init blocker succ",
		zap.Int("black_members", len(blackList)),
		zap.Int("white_members", len(whiteIps)),
		zap.Int("families", len(f.families)),
		zap.Bool("view_mode", f.c.viewMode),
	)
	return nil
}

func (f *defaultBlocker) BanIP(ctx context.Context, ip string, timeout uint32) error {
	m, fb, err := f.parseIP(ip)
	if err != nil {
		return err
	}
	if protected, _ := f.filter.IsContains(ip); protected {
		return fmt.Errorf("ban ip:%s failed, err:%w", ip, ErrProtectedIP)
	}
	if timeout == 0 {
		timeout = f.c.banTimeout
	}
	if rs := fb.black.AddResult(m, timeout); !rs.OK() {
		return fmt.Errorf("ban ip:%s failed, result:%s", ip, rs.String())
	}
	logutil.GetLogger(ctx).Debug("ban ip succ", zap.String("ip", ip), zap.Uint32("timeout", timeout))
	return nil
}

func (f *defaultBlocker) UnBanIP(ctx context.Context, ip string) error {
	m, fb, err := f.parseIP(ip)
	if err != nil {
		return err
	}
	rs := fb.black.RemoveResult(m)
	if rs == ipset.ResultNotFound {
		return nil
	}
	if !rs.OK() {
		return fmt.Errorf("unban ip:%s failed, result:%s", ip, rs.String())
	}
	logutil.GetLogger(ctx).Debug("unban ip succ", zap.String("ip", ip))
	return nil
}

func (f *defaultBlocker) WhiteIP(ctx context.Context, ip string) error {
	m, fb, err := f.parseIP(ip)
	if err != nil {
		return err
	}
	if rs := fb.white.AddResult(m, ipset.Permanent); !rs.OK() {
		return fmt.Errorf("white ip:%s failed, result:%s", ip, rs.String())
	}
	return nil
}

func (f *defaultBlocker) UnWhiteIP(ctx context.Context, ip string) error {
	m, fb, err := f.parseIP(ip)
	if err != nil {
		return err
	}
	if rs := fb.white.RemoveResult(m); !rs.OK() && rs != ipset.ResultNotFound {
		return fmt.Errorf("unwhite ip:%s failed, result:%s", ip, rs.String())
	}
	return nil
}

func (f *defaultBlocker) IsBanned(ctx context.Context, ip string) (bool, error) {
	m, fb, err := f.parseIP(ip)
	if err != nil {
		return false, err
	}
	switch rs := fb.black.InResult(m); rs {
	case ipset.ResultOK:
		return true, nil
	case ipset.ResultNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("test ip:%s failed, result:%s", ip, rs.String())
	}
}

func (f *defaultBlocker) Close() error {
	var errs []error
	for _, fb := range f.families {
		errs = append(errs, fb.black.Close(), fb.white.Close())
	}
	return errors.Join(errs...)
}
