package utils

import "ipset-session/ipset"

func StringSliceDedup(items []string) []string {
	m := make(map[string]struct{}, len(items))
	rs := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := m[item]; ok {
			continue
		}
		m[item] = struct{}{}
		rs = append(rs, item)
	}
	return rs
}

// MemberSliceDedup keeps the first occurrence of every member, in order.
func MemberSliceDedup(items []ipset.Member) []ipset.Member {
	m := make(map[string]struct{}, len(items))
	rs := make([]ipset.Member, 0, len(items))
	for _, item := range items {
		key := item.String()
		if _, ok := m[key]; ok {
			continue
		}
		m[key] = struct{}{}
		rs = append(rs, item)
	}
	return rs
}
