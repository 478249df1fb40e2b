package utils

import (
	"bufio"
	"fmt"
	"ipset-session/ipset"
	"os"
	"strings"
)

// ReadMemberListFromFile reads one address, CIDR or MAC per line. Blank
// lines and lines starting with # are skipped.
func ReadMemberListFromFile(f string) ([]ipset.Member, error) {
	file, err := os.Open(f)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	members := make([]ipset.Member, 0, 128)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		m, err := ipset.ParseMember(line)
		if err != nil {
			return nil, fmt.Errorf("scan member failed, line:%s, err:%w", line, err)
		}
		members = append(members, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

// ReadMemberListFromFiles concatenates the lists of every file, a path
// given more than once is read once.
func ReadMemberListFromFiles(fs []string) ([]ipset.Member, error) {
	rs := make([]ipset.Member, 0, 1024)
	for _, f := range StringSliceDedup(fs) {
		members, err := ReadMemberListFromFile(f)
		if err != nil {
			return nil, fmt.Errorf("read member list from file:%s failed, err:%w", f, err)
		}
		rs = append(rs, members...)
	}
	return rs, nil
}
