package tokenizer

// HealthClass classifies overall tokenizer subsystem health.
type HealthClass string

const (
	HealthHealthy  HealthClass = "healthy"
	HealthDegraded HealthClass = "degraded"
	HealthCritical HealthClass = "critical"
)

// DependencyStatus reports whether one optional native dependency is
// available, and any remediation if not.
type DependencyStatus struct {
	Name        string
	Available   bool
	Remediation string
}

// DependencyReport is the overall health classification plus the per-
// dependency breakdown.
type DependencyReport struct {
	Class        HealthClass
	Dependencies []DependencyStatus
}

// DependencyManager inspects the runtime for optional tokenizer
// dependencies. This build binds no native tiktoken or
// huggingface-tokenizers library, so both report unavailable; the report
// is static rather than a runtime probe.
type DependencyManager struct{}

// NewDependencyManager constructs a DependencyManager.
func NewDependencyManager() *DependencyManager { return &DependencyManager{} }

// Check returns the current dependency status report.
func (d *DependencyManager) Check() DependencyReport {
	deps := []DependencyStatus{
		{Name: "tiktoken", Available: false, Remediation: "no Go tiktoken-equivalent library bound in this build; tiktoken adapter uses an approximated cl100k_base-style encoding"},
		{Name: "huggingface-tokenizers", Available: false, Remediation: "no Go huggingface-tokenizers binding bound in this build; huggingface adapter falls back to the heuristic adapter"},
		{Name: "heuristic", Available: true, Remediation: ""},
	}

	class := HealthHealthy
	unavailable := 0
	for _, dep := range deps {
		if !dep.Available {
			unavailable++
		}
	}
	switch {
	case unavailable == 0:
		class = HealthHealthy
	case unavailable < len(deps):
		class = HealthDegraded
	default:
		class = HealthCritical
	}

	return DependencyReport{Class: class, Dependencies: deps}
}
