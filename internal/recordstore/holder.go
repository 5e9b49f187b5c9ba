package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/lox/aviationstats/internal/dataset"
	"github.com/lox/aviationstats/internal/metrics"
)

// ErrNotLoaded is returned by Current before the first snapshot is
// published.
var ErrNotLoaded = errors.New("record store not loaded")

// Holder publishes snapshots to readers. Readers call Current once per
// request and use that snapshot throughout, so a concurrent Swap never
// mixes old and new records.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	if initial != nil {
		h.Swap(initial)
	}
	return h
}

func (h *Holder) Current() (*Snapshot, error) {
	s := h.current.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

// Swap publishes next and returns the previous snapshot.
func (h *Holder) Swap(next *Snapshot) *Snapshot {
	metrics.SnapshotRecords.Set(float64(next.Len()))
	return h.current.Swap(next)
}

// LoadRecorder persists the outcome of each source load.
type LoadRecorder interface {
	RecordLoad(snapshotID string, src dataset.Source, diag *dataset.Diagnostics, loadErr error) error
}

// Reloader rebuilds snapshots from a fixed set of sources.
type Reloader struct {
	holder   *Holder
	loader   *dataset.Loader
	sources  []dataset.Source
	recorder LoadRecorder

	mu sync.Mutex // serialises reloads; readers never take it
}

func NewReloader(holder *Holder, loader *dataset.Loader, sources []dataset.Source) *Reloader {
	return &Reloader{holder: holder, loader: loader, sources: sources}
}

// SetRecorder configures where load runs are recorded.
func (r *Reloader) SetRecorder(rec LoadRecorder) {
	r.recorder = rec
}

// Reload loads every source, builds a new snapshot off to the side and
// swaps it in. On error the published snapshot is left untouched.
func (r *Reloader) Reload(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &dataset.Result{}
	var loaded []dataset.Source
	for _, src := range r.sources {
		records, diag, err := r.loader.LoadSource(ctx, src)
		if err != nil {
			r.record("", src, nil, err)
			metrics.Reloads.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("reload: %w", err)
		}
		res.Records = append(res.Records, records...)
		res.Diagnostics = append(res.Diagnostics, diag)
		loaded = append(loaded, src)
	}

	if cur := r.holder.current.Load(); cur != nil && sameFingerprints(cur.diags, res.Diagnostics) {
		for i, src := range loaded {
			r.record(cur.ID(), src, res.Diagnostics[i], nil)
		}
		metrics.Reloads.WithLabelValues("unchanged").Inc()
		log.Printf("recordstore: sources unchanged, keeping snapshot %s", cur.ID())
		return cur, nil
	}

	next := Build(res.Records, res.Diagnostics)
	for i, src := range loaded {
		r.record(next.ID(), src, res.Diagnostics[i], nil)
	}

	prev := r.holder.Swap(next)
	metrics.Reloads.WithLabelValues("ok").Inc()
	if prev != nil {
		log.Printf("recordstore: swapped snapshot %s -> %s (%d records)", prev.ID(), next.ID(), next.Len())
	} else {
		log.Printf("recordstore: published snapshot %s (%d records)", next.ID(), next.Len())
	}
	return next, nil
}

func (r *Reloader) record(snapshotID string, src dataset.Source, diag *dataset.Diagnostics, loadErr error) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordLoad(snapshotID, src, diag, loadErr); err != nil {
		log.Printf("recordstore: record load run for %s: %v", src, err)
	}
}

func sameFingerprints(a, b []*dataset.Diagnostics) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Location != b[i].Location || a[i].Fingerprint == "" || a[i].Fingerprint != b[i].Fingerprint {
			return false
		}
	}
	return true
}
