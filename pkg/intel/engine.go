package intel

import (
	"fmt"
	"strings"

	"github.com/netvigil/netvigil/pkg/model"
)

// Scoring constants. The assessment starts from a neutral-leaning base
// and each finding moves the trust score; the final value is clamped to
// [0, 1] and mapped to a risk level.
const (
	baseTrustScore = 0.7

	penaltyMaliciousIP    = 0.8
	penaltyPatternUnit    = 0.2 // scaled by the pattern's severity weight
	penaltySuspiciousPort = 0.3
	penaltyUnattributed   = 0.15
	penaltyForeignBinary  = 0.1
	penaltyBurst          = 0.2
	penaltyPortScan       = 0.3

	bonusEncrypted = 0.1
	bonusPrivate   = 0.15

	// Behavioral thresholds; the aggregation windows (10s / 30s) live in
	// the monitor, which passes the counts in.
	BurstThreshold    = 20
	PortScanThreshold = 15
)

// Risk factor labels.
const (
	FactorKnownMaliciousIP = "known_malicious_ip"
	FactorUnattributed     = "unattributed"
	FactorForeignBinary    = "foreign_binary"
	FactorConnectionBurst  = "connection_burst"
	FactorPortScan         = "port_scan"
)

// Input carries everything the engine needs for one evaluation. All
// stateful aggregation (burst and port-scan windows) lives in the
// monitor and is passed in explicitly; the engine itself is pure.
type Input struct {
	Endpoint *model.NetworkEndpoint
	Blocked  bool

	// ProcessEndpointOpens is the number of distinct remote endpoints the
	// owning process opened within the burst window.
	ProcessEndpointOpens int
	// RemotePortSpread is the number of distinct destination ports seen
	// on this endpoint's host within the port-scan window.
	RemotePortSpread int
}

// Engine evaluates endpoints against the corpus and behavioral inputs.
// Static configuration (allow roots, encrypted ports) is fixed at
// construction; the corpus is an explicit argument so that identical
// (corpus, input) pairs always produce identical assessments.
type Engine struct {
	allowRoots     []string
	encryptedPorts map[uint16]struct{}
}

// NewEngine builds an engine with the configured binary allow-roots and
// the encrypted-port set.
func NewEngine(allowRoots []string, encryptedPorts []int) *Engine {
	enc := make(map[uint16]struct{}, len(encryptedPorts))
	for _, p := range encryptedPorts {
		if p > 0 && p <= 65535 {
			enc[uint16(p)] = struct{}{}
		}
	}
	return &Engine{allowRoots: allowRoots, encryptedPorts: enc}
}

// IsEncryptedPort reports whether port is in the configured encrypted set.
func (e *Engine) IsEncryptedPort(port uint16) bool {
	_, ok := e.encryptedPorts[port]
	return ok
}

// Assess produces the security assessment for one endpoint. Deterministic
// given (corpus, input).
func (e *Engine) Assess(corpus *Corpus, in Input) model.SecurityAssessment {
	ep := in.Endpoint
	score := baseTrustScore

	var factors, findings, rules []string

	// Static IoC checks.
	if corpus.IsMalicious(ep.Host) {
		factors = append(factors, FactorKnownMaliciousIP)
		findings = append(findings, fmt.Sprintf("address %s appears in the threat corpus", ep.Host))
		score -= penaltyMaliciousIP
	}
	matchFields := append([]string{ep.ReverseDNS, ep.Organization}, ep.HTTPRequests...)
	for _, pat := range corpus.MatchPatterns(matchFields) {
		rules = append(rules, pat.Name)
		findings = append(findings, fmt.Sprintf("pattern %s matched", pat.Name))
		score -= penaltyPatternUnit * pat.Severity.Weight()
	}

	// Port heuristic.
	if corpus.IsSuspiciousPort(ep.Port) {
		factors = append(factors, fmt.Sprintf("suspicious_port:%d", ep.Port))
		score -= penaltySuspiciousPort
	}

	// Process attribution.
	if ep.Process == nil {
		factors = append(factors, FactorUnattributed)
		score -= penaltyUnattributed
	} else if ep.Process.Path != "" && !e.pathAllowed(ep.Process.Path) {
		factors = append(factors, FactorForeignBinary)
		score -= penaltyForeignBinary
	}

	// Behavioral heuristics (windows aggregated by the monitor).
	if in.ProcessEndpointOpens >= BurstThreshold {
		factors = append(factors, FactorConnectionBurst)
		score -= penaltyBurst
	}
	if in.RemotePortSpread >= PortScanThreshold {
		factors = append(factors, FactorPortScan)
		score -= penaltyPortScan
	}

	// Bonuses.
	if ep.EncryptionType == model.EncryptionTLS && e.IsEncryptedPort(ep.Port) {
		score += bonusEncrypted
	}
	if ep.IsPrivate {
		score += bonusPrivate
	}

	score = clamp01(score)
	level := riskLevelFor(score)
	if in.Blocked && !level.Above(model.RiskMedium) {
		// A blocked host is never reported below HIGH.
		level = model.RiskHigh
	}

	return model.SecurityAssessment{
		RiskLevel:      level,
		RiskFactors:    factors,
		ThreatFindings: findings,
		RulesTriggered: rules,
		TrustScore:     score,
		Recommendation: recommendationFor(level, factors),
	}
}

func (e *Engine) pathAllowed(path string) bool {
	for _, root := range e.allowRoots {
		if root == "" {
			continue
		}
		if strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/") {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func riskLevelFor(score float64) model.RiskLevel {
	switch {
	case score >= 0.75:
		return model.RiskLow
	case score >= 0.50:
		return model.RiskMedium
	case score >= 0.25:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// recommendationFor returns the fixed recommendation text for a level,
// specialized for a couple of high-signal factors.
func recommendationFor(level model.RiskLevel, factors []string) string {
	for _, f := range factors {
		if f == FactorKnownMaliciousIP {
			return "Immediate action required: known malicious address, block this connection and investigate"
		}
		if f == FactorPortScan {
			return "Recommended action: probable port scan, monitor closely and consider blocking the host"
		}
	}
	switch level {
	case model.RiskCritical:
		return "Immediate action required: block this connection and investigate"
	case model.RiskHigh:
		return "Recommended action: monitor closely and consider blocking"
	case model.RiskMedium:
		return "Caution advised: monitor for suspicious behavior"
	default:
		return "Normal monitoring recommended"
	}
}
