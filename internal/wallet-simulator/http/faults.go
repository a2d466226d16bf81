package httpapi

import (
	"math/rand/v2"
	"sync"

	"github.com/radieske/rgs-transaction-core/internal/operator"
)

type Mode int

const (
	// FailBefore responde 503 sem aplicar o movimento
	FailBefore Mode = iota
	// FailAfter aplica o movimento e perde a resposta (500)
	FailAfter
)

// Faults injeta falhas nas rotas de transação: uma taxa aleatória e uma fila programada por operação
type Faults struct {
	mu   sync.Mutex
	rate float64
	next map[operator.Op][]Mode
}

func NewFaults(rate float64) *Faults {
	return &Faults{rate: rate, next: make(map[operator.Op][]Mode)}
}

func (f *Faults) FailNext(op operator.Op, n int, mode Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for range n {
		f.next[op] = append(f.next[op], mode)
	}
}

func (f *Faults) take(op operator.Op) (Mode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.next[op]; len(q) > 0 {
		f.next[op] = q[1:]
		return q[0], true
	}
	if f.rate > 0 && rand.Float64() < f.rate {
		return FailBefore, true
	}
	return 0, false
}
