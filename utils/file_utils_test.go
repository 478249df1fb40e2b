package utils

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"ipset-session/ipset"
)

func TestReadFile(t *testing.T) {
	members := "1.2.3.4\n2.3.4.5\r\n# comment\r\n\n\n\n1.1.1.1/24\r\r\r\naa:bb:cc:dd:ee:ff\n2001:db8::1\n"
	f := "/tmp/test_file_" + uuid.NewString()
	err := os.WriteFile(f, []byte(members), 0644)
	assert.NoError(t, err)
	defer os.Remove(f)
	readMembers, err := ReadMemberListFromFile(f)
	assert.NoError(t, err)
	assert.Len(t, readMembers, 5)
	for _, m := range readMembers {
		t.Logf("member:%s, kind:%s", m.String(), m.Kind())
	}
	assert.Equal(t, "1.1.1.0/24", readMembers[2].String())
	assert.Equal(t, ipset.KindMAC, readMembers[3].Kind())
	assert.Equal(t, ipset.KindIPv6, readMembers[4].Kind())

	all, err := ReadMemberListFromFiles([]string{f, f})
	assert.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestReadBadFile(t *testing.T) {
	f := "/tmp/test_file_" + uuid.NewString()
	err := os.WriteFile(f, []byte("1.2.3.4\nnot-a-member\n"), 0644)
	assert.NoError(t, err)
	defer os.Remove(f)
	_, err = ReadMemberListFromFile(f)
	assert.Error(t, err)
	_, err = ReadMemberListFromFiles([]string{"/tmp/not_exist_" + uuid.NewString()})
	assert.Error(t, err)
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, StringSliceDedup([]string{"a", "b", "a"}))
	a, _ := ipset.ParseMember("1.2.3.4")
	b, _ := ipset.ParseMember("1.2.3.4")
	c, _ := ipset.ParseMember("10.0.0.0/8")
	rs := MemberSliceDedup([]ipset.Member{a, b, c})
	assert.Len(t, rs, 2)
}
