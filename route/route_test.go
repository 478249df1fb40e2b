package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectExitInterface(t *testing.T) {
	iface, err := DetectExitInterface(true)
	if err != nil {
		t.Skipf("no default route in this environment, err:%v", err)
	}
	assert.NotEmpty(t, iface)
	ips, err := ReadLocalIPs(iface, true)
	assert.NoError(t, err)
	for _, ip := range ips {
		assert.NotNil(t, ip.To4())
	}
}

func TestReadLocalIPsUnknownLink(t *testing.T) {
	_, err := ReadLocalIPs("no-such-link0", true)
	assert.Error(t, err)
}
