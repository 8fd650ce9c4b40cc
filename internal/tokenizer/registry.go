package tokenizer

import (
	"fmt"
	"sync"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// Factory constructs an Adapter for a given model name.
type Factory func(model string) (Adapter, error)

// Registry holds the set of addressable adapter factories and the default
// fallback chain used when the named adapter cannot be resolved. Callers
// construct one per invocation and may inject a test double.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	// FallbackChain is walked in order, skipping names already attempted,
	// until one resolves.
	FallbackChain []string
	// demoted tracks adapters with repeated recent failures so future
	// Resolve calls can deprioritize them in telemetry/suggestions.
	demoted map[string]int
	// recoveryAttempts caps retries per (adapter, model) pair.
	recoveryAttempts map[string]int
}

const maxRecoveryAttempts = 3

// NewRegistry builds a Registry pre-populated with the three required
// adapters, addressable by name.
func NewRegistry() *Registry {
	r := &Registry{
		factories: map[string]Factory{
			"heuristic": func(model string) (Adapter, error) {
				return NewHeuristicAdapter(model), nil
			},
			"tiktoken": func(model string) (Adapter, error) {
				return NewTiktokenAdapter(model), nil
			},
			"huggingface": func(model string) (Adapter, error) {
				return NewHuggingFaceAdapter(model), nil
			},
		},
		FallbackChain:    []string{"tiktoken", "huggingface", "heuristic"},
		demoted:          map[string]int{},
		recoveryAttempts: map[string]int{},
	}
	return r
}

// Register adds or replaces a named adapter factory, letting tests swap
// in an unavailable-simulating double.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolution carries the resolved adapter plus the telemetry facts:
// whether a fallback occurred and from which name.
type Resolution struct {
	Adapter      Adapter
	WasFallback  bool
	FallbackFrom string
	Attempts     []FailedAttempt
}

// FailedAttempt records one failed resolution attempt with structured
// context.
type FailedAttempt struct {
	AdapterName string
	Model       string
	Err         error
}

// Resolve attempts the named adapter ("auto" uses the fallback chain's
// head); on failure it walks the fallback chain, skipping already-attempted
// names, recording every failure, and marking the result as "fallback from
// X" for telemetry.
func (r *Registry) Resolve(name, model string) (Resolution, error) {
	tried := map[string]bool{}
	var attempts []FailedAttempt

	order := r.resolutionOrder(name)
	for i, candidate := range order {
		if tried[candidate] {
			continue
		}
		tried[candidate] = true

		key := candidate + ":" + model
		r.mu.Lock()
		if r.recoveryAttempts[key] >= maxRecoveryAttempts {
			r.mu.Unlock()
			attempts = append(attempts, FailedAttempt{AdapterName: candidate, Model: model, Err: fmt.Errorf("%w: recovery attempts exhausted", kanoerr.ErrAdapterUnavailable)})
			continue
		}
		r.mu.Unlock()

		factory, ok := r.factories[candidate]
		if !ok {
			attempts = append(attempts, FailedAttempt{AdapterName: candidate, Model: model, Err: fmt.Errorf("%w: %q not registered", kanoerr.ErrAdapterUnavailable, candidate)})
			continue
		}

		adapter, err := factory(model)
		if err != nil {
			r.mu.Lock()
			r.recoveryAttempts[key]++
			r.demoted[candidate]++
			r.mu.Unlock()
			attempts = append(attempts, FailedAttempt{AdapterName: candidate, Model: model, Err: err})
			continue
		}

		res := Resolution{Adapter: adapter, Attempts: attempts}
		if i > 0 || candidate != name {
			res.WasFallback = true
			res.FallbackFrom = name
		}
		return res, nil
	}

	return Resolution{Attempts: attempts}, fmt.Errorf("%w: exhausted %v for model %q", kanoerr.ErrFallbackChainExhausted, order, model)
}

// resolutionOrder builds the attempt order: the requested name first
// (unless "auto"), then the fallback chain. Repeated names are kept here;
// Resolve skips any name it has already attempted.
func (r *Registry) resolutionOrder(name string) []string {
	var order []string
	if name != "" && name != "auto" {
		order = append(order, name)
	}
	order = append(order, r.FallbackChain...)
	return order
}

// DemotionCount reports how many times an adapter has failed, for
// deprioritizing it in future suggestions.
func (r *Registry) DemotionCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.demoted[name]
}
