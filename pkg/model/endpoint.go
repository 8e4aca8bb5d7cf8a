package model

import (
	"sort"
	"time"
)

// Connection states beyond what the OS reports.
const (
	StateBlocked = "BLOCKED"
	StateStale   = "STALE"
)

// Encryption classifications derived from sampling.
const (
	EncryptionTLS     = "TLS"
	EncryptionPlain   = "PLAIN"
	EncryptionUnknown = "UNKNOWN"
)

// MaxBoundedList caps the dns_queries and http_requests lists.
const MaxBoundedList = 100

// latencyAlpha is the EWMA smoothing factor for latency updates.
const latencyAlpha = 0.3

// NetworkEndpoint is the central record of the endpoint table: one remote
// (host, port, protocol) with attribution, traffic history and the last
// security assessment. The monitor is the single writer; everything
// handed to readers is a deep-enough copy (see Clone).
type NetworkEndpoint struct {
	Host     string   `json:"host"`
	Port     uint16   `json:"port"`
	Protocol Protocol `json:"protocol"`

	ReverseDNS   string `json:"reverse_dns,omitempty"`
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Organization string `json:"organization,omitempty"`

	Process *ProcessInfo `json:"process_info,omitempty"`

	Samples       *SampleRing `json:"traffic_samples"`
	BytesSent     uint64      `json:"bytes_sent"`
	BytesReceived uint64      `json:"bytes_received"`
	AvgPacketSize float64     `json:"avg_packet_size"`

	Assessment *SecurityAssessment `json:"security_assessment,omitempty"`

	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	ConnectionCount int       `json:"connection_count"`
	ConnectionState string    `json:"connection_state"`
	EncryptionType  string    `json:"encryption_type"`

	OpenPorts    []uint16 `json:"open_ports,omitempty"`
	DNSQueries   []string `json:"dns_queries,omitempty"`
	HTTPRequests []string `json:"http_requests,omitempty"`

	IsPrivate  bool    `json:"is_private"`
	IsSafe     bool    `json:"is_safe"`
	Latency    float64 `json:"latency"`
	PacketLoss float64 `json:"packet_loss"`
}

// NewEndpoint creates an endpoint record for its first observation.
func NewEndpoint(key EndpointKey, state string, now time.Time, ringSize int) *NetworkEndpoint {
	return &NetworkEndpoint{
		Host:            key.Host,
		Port:            key.Port,
		Protocol:        key.Protocol,
		Samples:         NewSampleRing(ringSize),
		FirstSeen:       now,
		LastSeen:        now,
		ConnectionCount: 1,
		ConnectionState: state,
		EncryptionType:  EncryptionUnknown,
		IsPrivate:       IsPrivateHost(key.Host),
	}
}

// Key returns the canonical table key for this endpoint.
func (e *NetworkEndpoint) Key() EndpointKey {
	return EndpointKey{Host: e.Host, Port: e.Port, Protocol: e.Protocol}
}

// Touch records a fresh observation.
func (e *NetworkEndpoint) Touch(state string, now time.Time) {
	e.LastSeen = now
	e.ConnectionState = state
}

// AddOpenPort records a port in the open-port set, kept sorted.
func (e *NetworkEndpoint) AddOpenPort(port uint16) {
	i := sort.Search(len(e.OpenPorts), func(i int) bool { return e.OpenPorts[i] >= port })
	if i < len(e.OpenPorts) && e.OpenPorts[i] == port {
		return
	}
	e.OpenPorts = append(e.OpenPorts, 0)
	copy(e.OpenPorts[i+1:], e.OpenPorts[i:])
	e.OpenPorts[i] = port
}

// AddDNSQuery appends to the bounded dns_queries list.
func (e *NetworkEndpoint) AddDNSQuery(q string) {
	e.DNSQueries = appendBounded(e.DNSQueries, q)
}

// AddHTTPRequest appends to the bounded http_requests list.
func (e *NetworkEndpoint) AddHTTPRequest(r string) {
	e.HTTPRequests = appendBounded(e.HTTPRequests, r)
}

func appendBounded(list []string, v string) []string {
	list = append(list, v)
	if len(list) > MaxBoundedList {
		list = list[len(list)-MaxBoundedList:]
	}
	return list
}

// ObserveLatency folds a latency measurement (ms) into the EWMA.
func (e *NetworkEndpoint) ObserveLatency(ms float64) {
	if e.Latency == 0 {
		e.Latency = ms
		return
	}
	e.Latency = latencyAlpha*ms + (1-latencyAlpha)*e.Latency
}

// Clone returns a copy safe to hand to hub serializers while the monitor
// keeps mutating the original. The sample ring is copied by window.
func (e *NetworkEndpoint) Clone() *NetworkEndpoint {
	cp := *e
	if e.Process != nil {
		p := *e.Process
		cp.Process = &p
	}
	if e.Assessment != nil {
		a := *e.Assessment
		a.RiskFactors = append([]string(nil), e.Assessment.RiskFactors...)
		a.ThreatFindings = append([]string(nil), e.Assessment.ThreatFindings...)
		a.RulesTriggered = append([]string(nil), e.Assessment.RulesTriggered...)
		cp.Assessment = &a
	}
	if e.Samples != nil {
		ring := NewSampleRing(e.Samples.Cap())
		for _, s := range e.Samples.Samples() {
			ring.Record(s)
		}
		cp.Samples = ring
	}
	cp.OpenPorts = append([]uint16(nil), e.OpenPorts...)
	cp.DNSQueries = append([]string(nil), e.DNSQueries...)
	cp.HTTPRequests = append([]string(nil), e.HTTPRequests...)
	return &cp
}
