package reconcile

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

// Progress describes how far a pass has advanced.
type Progress struct {
	Pass      Pass   `json:"pass"`
	Completed int    `json:"completed"`
	Remaining int    `json:"remaining"`
	Counts    Counts `json:"counts"`
	Notified  int    `json:"notified"`
}

// Ledger coordinates a pass across workers: it keeps the existing-id
// snapshot taken at the start, the union of processed ids, the set of
// completed chunks and the notification claims.
type Ledger interface {
	// Open records a new pass and its existing-id snapshot.
	Open(ctx context.Context, pass Pass, existing products.IDSet) error
	Pass(ctx context.Context, id uuid.UUID) (Pass, error)
	Existing(ctx context.Context, id uuid.UUID) (products.IDSet, error)
	// Complete records a chunk result. Completing the same chunk twice
	// has no further effect. It returns the number of chunks still pending.
	Complete(ctx context.Context, id uuid.UUID, result ChunkResult) (int, error)
	Processed(ctx context.Context, id uuid.UUID) (products.IDSet, error)
	Progress(ctx context.Context, id uuid.UUID) (Progress, error)
	// Claim reports true the first time key is claimed within the pass.
	Claim(ctx context.Context, id uuid.UUID, key string) (bool, error)
	Close(ctx context.Context, id uuid.UUID) error
}

type memoryPass struct {
	pass      Pass
	existing  products.IDSet
	processed products.IDSet
	done      map[int]struct{}
	counts    Counts
	claims    map[string]struct{}
}

// MemoryLedger keeps pass state in process. It backs inline runs and the
// API sync, where every chunk executes in the same process.
type MemoryLedger struct {
	mu     sync.Mutex
	passes map[uuid.UUID]*memoryPass
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{passes: make(map[uuid.UUID]*memoryPass)}
}

func (l *MemoryLedger) get(id uuid.UUID) (*memoryPass, error) {
	p, ok := l.passes[id]
	if !ok {
		return nil, ErrPassNotFound
	}
	return p, nil
}

func (l *MemoryLedger) Open(_ context.Context, pass Pass, existing products.IDSet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make(products.IDSet, len(existing))
	snapshot.Union(existing)
	l.passes[pass.ID] = &memoryPass{
		pass:      pass,
		existing:  snapshot,
		processed: make(products.IDSet),
		done:      make(map[int]struct{}),
		claims:    make(map[string]struct{}),
	}
	return nil
}

func (l *MemoryLedger) Pass(_ context.Context, id uuid.UUID) (Pass, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.get(id)
	if err != nil {
		return Pass{}, err
	}
	return p.pass, nil
}

func (l *MemoryLedger) Existing(_ context.Context, id uuid.UUID) (products.IDSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.get(id)
	if err != nil {
		return nil, err
	}
	out := make(products.IDSet, len(p.existing))
	out.Union(p.existing)
	return out, nil
}

func (l *MemoryLedger) Complete(_ context.Context, id uuid.UUID, result ChunkResult) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.get(id)
	if err != nil {
		return 0, err
	}
	if _, seen := p.done[result.Index]; !seen {
		p.done[result.Index] = struct{}{}
		p.processed.Add(result.Processed...)
		p.counts.Add(result.Counts)
	}
	return remaining(p.pass.Chunks, len(p.done)), nil
}

func (l *MemoryLedger) Processed(_ context.Context, id uuid.UUID) (products.IDSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.get(id)
	if err != nil {
		return nil, err
	}
	out := make(products.IDSet, len(p.processed))
	out.Union(p.processed)
	return out, nil
}

func (l *MemoryLedger) Progress(_ context.Context, id uuid.UUID) (Progress, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.get(id)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		Pass:      p.pass,
		Completed: len(p.done),
		Remaining: remaining(p.pass.Chunks, len(p.done)),
		Counts:    p.counts,
		Notified:  len(p.claims),
	}, nil
}

func (l *MemoryLedger) Claim(_ context.Context, id uuid.UUID, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.get(id)
	if err != nil {
		return false, err
	}
	if _, ok := p.claims[key]; ok {
		return false, nil
	}
	p.claims[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Close(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.passes, id)
	return nil
}

func remaining(total, done int) int {
	if done >= total {
		return 0
	}
	return total - done
}
