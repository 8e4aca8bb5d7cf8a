package model

import (
	"fmt"
	"net/netip"
	"strings"
)

// Protocol identifies the transport protocol of an endpoint.
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// EndpointKey identifies a remote endpoint in the table. Keys are
// canonicalized before insertion: IPv6 addresses are normalized to their
// canonical textual form and hostnames are lowercased.
type EndpointKey struct {
	Host     string   `json:"host"`
	Port     uint16   `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// NewEndpointKey builds a canonical key from raw probe output.
func NewEndpointKey(host string, port uint16, proto Protocol) EndpointKey {
	return EndpointKey{
		Host:     CanonicalHost(host),
		Port:     port,
		Protocol: proto,
	}
}

// CanonicalHost normalizes a host string. IP addresses are reformatted
// through netip so equivalent IPv6 spellings collapse to one key.
func CanonicalHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	// Strip a zone or bracket wrapper if the OS handed us one.
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	return host
}

func (k EndpointKey) String() string {
	return fmt.Sprintf("%s:%d/%s", k.Host, k.Port, k.Protocol)
}

// IsPrivateHost reports whether the host is an RFC1918, loopback or
// link-local address. Unparseable hosts are treated as public.
func IsPrivateHost(host string) bool {
	addr, err := netip.ParseAddr(CanonicalHost(host))
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}
