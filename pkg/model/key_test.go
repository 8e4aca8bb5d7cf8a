package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEndpointKeyCanonicalization(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{"lowercases hostnames", "EVIL.Example.COM", "evil.example.com"},
		{"trims whitespace", "  10.0.0.1 ", "10.0.0.1"},
		{"normalizes ipv6 spelling", "2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1"},
		{"strips brackets", "[2001:db8::1]", "2001:db8::1"},
		{"ipv4 passes through", "192.168.1.50", "192.168.1.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewEndpointKey(tt.host, 443, ProtocolTCP)
			assert.Equal(t, tt.want, key.Host)
		})
	}
}

func TestEndpointKeyEquivalentSpellingsCollide(t *testing.T) {
	a := NewEndpointKey("2001:db8::1", 80, ProtocolTCP)
	b := NewEndpointKey("2001:0DB8:0:0:0:0:0:1", 80, ProtocolTCP)
	assert.Equal(t, a, b)
}

func TestEndpointKeyString(t *testing.T) {
	key := NewEndpointKey("1.1.1.1", 443, ProtocolTCP)
	assert.Equal(t, "1.1.1.1:443/TCP", key.String())

	udp := NewEndpointKey("8.8.8.8", 53, ProtocolUDP)
	assert.Equal(t, "8.8.8.8:53/UDP", udp.String())
}

func TestIsPrivateHost(t *testing.T) {
	assert.True(t, IsPrivateHost("192.168.1.1"))
	assert.True(t, IsPrivateHost("10.20.30.40"))
	assert.True(t, IsPrivateHost("127.0.0.1"))
	assert.True(t, IsPrivateHost("fe80::1"))
	assert.False(t, IsPrivateHost("1.1.1.1"))
	assert.False(t, IsPrivateHost("2001:db8::1"))
	assert.False(t, IsPrivateHost("not-an-ip.example.com"))
}
