package areacode

import (
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/sells-group/areamatch/internal/model"
)

// Holder publishes registry snapshots. Readers take a Snapshot for the
// duration of a batch; edits swap in a new snapshot and are only visible to
// later Snapshot calls.
type Holder struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Registry]
}

// NewHolder creates a Holder publishing r.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.current.Store(r)
	return h
}

// Snapshot returns the current registry.
func (h *Holder) Snapshot() *Registry {
	return h.current.Load()
}

// SetMapping upserts a region mapping into a new snapshot and publishes it.
func (h *Holder) SetMapping(m model.RegionMapping) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := h.current.Load().SetMapping(m)
	if err != nil {
		return eris.Wrap(err, "areacode: set mapping")
	}
	h.current.Store(next)
	return nil
}
