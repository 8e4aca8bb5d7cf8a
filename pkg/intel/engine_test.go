package intel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netvigil/netvigil/pkg/model"
)

var testEncryptedPorts = []int{443, 8443, 22, 993, 995, 465, 587}

func testEngine() *Engine {
	return NewEngine([]string{"/usr/bin", "/usr/local/bin"}, testEncryptedPorts)
}

func endpointFor(host string, port uint16) *model.NetworkEndpoint {
	key := model.NewEndpointKey(host, port, model.ProtocolTCP)
	return model.NewEndpoint(key, "ESTABLISHED", time.Now(), 10)
}

func attributed(ep *model.NetworkEndpoint) *model.NetworkEndpoint {
	ep.Process = &model.ProcessInfo{PID: 1234, Name: "curl", Path: "/usr/bin/curl"}
	return ep
}

func TestAssessCleanTLSEndpointIsLow(t *testing.T) {
	e := testEngine()
	ep := attributed(endpointFor("1.1.1.1", 443))
	ep.EncryptionType = model.EncryptionTLS

	a := e.Assess(EmptyCorpus(nil), Input{Endpoint: ep})

	assert.InDelta(t, 0.8, a.TrustScore, 0.0001)
	assert.Equal(t, model.RiskLow, a.RiskLevel)
	assert.Empty(t, a.RiskFactors)
	assert.Equal(t, "Normal monitoring recommended", a.Recommendation)
}

func TestAssessMaliciousUnattributedSuspiciousPortClampsToCritical(t *testing.T) {
	e := testEngine()
	corpus := EmptyCorpus(nil)
	require.NoError(t, corpus.addIP("203.0.113.7"))

	ep := endpointFor("203.0.113.7", 4444) // suspicious port, no process

	a := e.Assess(corpus, Input{Endpoint: ep})

	assert.Zero(t, a.TrustScore) // 0.7 - 0.8 - 0.3 - 0.15 clamps to 0
	assert.Equal(t, model.RiskCritical, a.RiskLevel)
	assert.Contains(t, a.RiskFactors, FactorKnownMaliciousIP)
	assert.Contains(t, a.RiskFactors, FactorUnattributed)
	assert.Contains(t, a.RiskFactors, "suspicious_port:4444")
	assert.Contains(t, a.Recommendation, "known malicious address")
}

func TestAssessPrivateEndpointGetsBonus(t *testing.T) {
	e := testEngine()
	ep := attributed(endpointFor("192.168.1.20", 8080))

	a := e.Assess(EmptyCorpus(nil), Input{Endpoint: ep})

	assert.InDelta(t, 0.85, a.TrustScore, 0.0001)
	assert.Equal(t, model.RiskLow, a.RiskLevel)
}

func TestAssessForeignBinaryPenalty(t *testing.T) {
	e := testEngine()
	ep := endpointFor("8.8.4.4", 8080)
	ep.Process = &model.ProcessInfo{PID: 99, Name: "dropper", Path: "/tmp/dropper"}

	a := e.Assess(EmptyCorpus(nil), Input{Endpoint: ep})

	assert.Contains(t, a.RiskFactors, FactorForeignBinary)
	assert.InDelta(t, 0.6, a.TrustScore, 0.0001)
	assert.Equal(t, model.RiskMedium, a.RiskLevel)
}

func TestAssessPatternSeverityScalesPenalty(t *testing.T) {
	e := testEngine()
	corpus := EmptyCorpus(nil)
	corpus.Patterns = []ThreatPattern{
		{Name: "c2-beacon", Indicators: []string{"badcdn"}, Severity: model.SeverityCritical},
	}

	ep := attributed(endpointFor("8.8.4.4", 8080))
	ep.ReverseDNS = "edge1.badcdn.example"

	a := e.Assess(corpus, Input{Endpoint: ep})

	// 0.7 - 0.2*1.0 for a CRITICAL pattern
	assert.InDelta(t, 0.5, a.TrustScore, 0.0001)
	assert.Contains(t, a.RulesTriggered, "c2-beacon")
	assert.NotEmpty(t, a.ThreatFindings)
}

func TestAssessBehavioralThresholds(t *testing.T) {
	e := testEngine()
	ep := attributed(endpointFor("8.8.4.4", 8080))

	below := e.Assess(EmptyCorpus(nil), Input{Endpoint: ep, ProcessEndpointOpens: BurstThreshold - 1, RemotePortSpread: PortScanThreshold - 1})
	assert.NotContains(t, below.RiskFactors, FactorConnectionBurst)
	assert.NotContains(t, below.RiskFactors, FactorPortScan)

	at := e.Assess(EmptyCorpus(nil), Input{Endpoint: ep, ProcessEndpointOpens: BurstThreshold, RemotePortSpread: PortScanThreshold})
	assert.Contains(t, at.RiskFactors, FactorConnectionBurst)
	assert.Contains(t, at.RiskFactors, FactorPortScan)
	assert.Contains(t, at.Recommendation, "port scan")
}

func TestAssessBlockedHostNeverBelowHigh(t *testing.T) {
	e := testEngine()
	ep := attributed(endpointFor("192.168.1.20", 443))
	ep.EncryptionType = model.EncryptionTLS

	a := e.Assess(EmptyCorpus(nil), Input{Endpoint: ep, Blocked: true})

	assert.Equal(t, model.RiskHigh, a.RiskLevel)
	// The trust score itself is untouched by the block override.
	assert.Greater(t, a.TrustScore, 0.75)
}

func TestAssessDeterministic(t *testing.T) {
	e := testEngine()
	corpus := EmptyCorpus(nil)
	ep := attributed(endpointFor("8.8.4.4", 443))
	in := Input{Endpoint: ep}

	first := e.Assess(corpus, in)
	second := e.Assess(corpus, in)
	assert.Equal(t, first, second)
}

func TestRiskLevelBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  model.RiskLevel
	}{
		{0.75, model.RiskLow},
		{0.7499, model.RiskMedium},
		{0.50, model.RiskMedium},
		{0.4999, model.RiskHigh},
		{0.25, model.RiskHigh},
		{0.2499, model.RiskCritical},
		{0, model.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, riskLevelFor(tt.score), "score %v", tt.score)
	}
}

func TestIsEncryptedPort(t *testing.T) {
	e := testEngine()
	assert.True(t, e.IsEncryptedPort(443))
	assert.True(t, e.IsEncryptedPort(22))
	assert.False(t, e.IsEncryptedPort(80))
}
