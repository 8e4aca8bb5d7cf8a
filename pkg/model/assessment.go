package model

// RiskLevel classifies an endpoint's assessed risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// rank orders risk levels for transition comparisons.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// Above reports whether r is a strictly higher risk than other.
func (r RiskLevel) Above(other RiskLevel) bool {
	return r.rank() > other.rank()
}

// Severity weights used by the threat-pattern scoring step.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Weight maps a severity to its normalized scoring weight (LOW=1 .. CRITICAL=4, /4).
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 1.0 / 4
	case SeverityMedium:
		return 2.0 / 4
	case SeverityHigh:
		return 3.0 / 4
	case SeverityCritical:
		return 4.0 / 4
	default:
		return 1.0 / 4
	}
}

// SecurityAssessment is the classifier output for an endpoint. It is a
// pure value, replaced wholesale on every evaluation.
type SecurityAssessment struct {
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskFactors    []string  `json:"risk_factors"`
	ThreatFindings []string  `json:"threat_indicators"`
	RulesTriggered []string  `json:"detection_rules_triggered"`
	TrustScore     float64   `json:"trust_score"`
	Recommendation string    `json:"recommendation"`
}
