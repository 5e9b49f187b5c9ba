package predict

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sync"

	"github.com/lox/aviationstats/internal/features"
	"github.com/lox/aviationstats/internal/recordstore"
)

// Modes select the model served by /api/predict.
const (
	ModeAuto        = "auto"
	ModePlaceholder = "placeholder"
	ModeLinear      = "linear"
	ModeBaseline    = "baseline"
)

// Models are the estimators bound to one snapshot.
type Models struct {
	SnapshotID string
	Encoder    *features.Encoder
	Primary    Model // serves /api/predict
	Linear     Model
	Ensemble   Model
}

// Registry hands out the Models for the current snapshot, rebuilding the
// in-process ones only when the snapshot changes.
type Registry struct {
	mode   string
	linear *LinearModel

	mu  sync.Mutex
	cur *Models
}

// NewRegistry loads any trained artefacts from dir. In auto mode a
// missing linear model falls back to the placeholder.
func NewRegistry(dir, mode string) (*Registry, error) {
	r := &Registry{mode: mode}
	switch mode {
	case ModeAuto, ModePlaceholder, ModeLinear, ModeBaseline:
	default:
		return nil, fmt.Errorf("unknown model mode %q", mode)
	}

	if dir != "" {
		m, err := LoadLinearModel(dir)
		switch {
		case err == nil:
			r.linear = m
			log.Printf("predict: loaded linear model from %s", dir)
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("predict: no trained model in %s, using placeholder", dir)
		default:
			return nil, err
		}
	}
	if mode == ModeLinear && r.linear == nil {
		return nil, fmt.Errorf("model mode %q requires %s in the model directory", mode, linearModelFile)
	}
	return r, nil
}

// For returns the models for snap.
func (r *Registry) For(snap *recordstore.Snapshot) *Models {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil && r.cur.SnapshotID == snap.ID() {
		return r.cur
	}

	enc := features.NewEncoder(snap)
	m := &Models{
		SnapshotID: snap.ID(),
		Encoder:    enc,
		Linear:     NullModel{},
		Ensemble:   NewBaselineModel(snap, enc),
	}
	if r.linear != nil {
		m.Linear = r.linear
	}
	switch r.mode {
	case ModePlaceholder:
		m.Primary = NullModel{}
	case ModeBaseline:
		m.Primary = m.Ensemble
	default:
		m.Primary = m.Linear
	}
	r.cur = m
	return m
}
