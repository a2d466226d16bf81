package operator

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/rgs-transaction-core/internal/shared/config"
)

// Registry resolve o Adapter pelo operatorCode da sessão
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Code()] = a
	}
	return r
}

// FromConfig monta um Client por operador configurado
func FromConfig(cfg config.Config, m *Metrics, log *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, oc := range cfg.Operators {
		c, err := New(Options{
			Code:      oc.Code,
			Format:    oc.Format,
			BaseURL:   oc.BaseURL,
			Secret:    oc.Secret,
			APIKey:    oc.APIKey,
			Timeout:   oc.Timeout,
			BetPolicy: PolicyFrom(cfg.BetRetry),
			WinPolicy: PolicyFrom(cfg.WinRetry),
			Metrics:   m,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("operator %s: %w", oc.Code, err)
		}
		r.Register(c)
	}
	return r, nil
}

func PolicyFrom(p config.RetryPolicy) Policy {
	return Policy{
		MaxAttempts:     p.MaxAttempts,
		InitialInterval: p.InitialInterval,
		MaxInterval:     p.MaxInterval,
		Multiplier:      p.Multiplier,
		MaxElapsed:      p.MaxElapsed,
		AttemptTimeout:  p.AttemptTimeout,
	}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Code()] = a
	r.mu.Unlock()
}

func (r *Registry) Get(code string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, code)
	}
	return a, nil
}

func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
