// Package model implements the note predictor the training runs drive: a
// logistic model over a flattened input window, snapshotted to JSON, trained
// with Adam. The run state machine only sees Load/Save, Compile, Fit and the
// dimensional contract (InputLen), so a heavier architecture can replace
// this one without touching the run code.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"
)

const snapshotVersion = 1

// OptimizerState is the compiled optimizer with its accumulated moments, so
// a resumed run continues the same trajectory instead of restarting momentum
// from zero.
type OptimizerState struct {
	Kind   string             `json:"kind"`
	Kwargs map[string]float64 `json:"kwargs"`
	M      []float64          `json:"m"`
	V      []float64          `json:"v"`
	Step   int                `json:"step"`
}

// Snapshot is the complete persisted model: dimensions, parameters, and
// optimizer state when compiled.
type Snapshot struct {
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	NumKeys          int             `json:"num_keys"`
	InputTimesteps   int             `json:"input_timesteps"`
	PredictTimesteps int             `json:"predict_timesteps"`
	Weights          []float64       `json:"weights"`
	Bias             []float64       `json:"bias"`
	Compiled         bool            `json:"compiled"`
	Optimizer        *OptimizerState `json:"optimizer,omitempty"`
}

// InitParams configures a freshly built model.
type InitParams struct {
	NumKeys          int   `json:"num_keys"`
	InputTimesteps   int   `json:"input_timesteps"`
	PredictTimesteps int   `json:"predict_timesteps"`
	Seed             int64 `json:"seed"`
}

// Init builds an untrained, uncompiled model with small random weights.
func Init(p InitParams) (*Snapshot, error) {
	if p.NumKeys < 1 || p.InputTimesteps < 1 || p.PredictTimesteps < 1 {
		return nil, fmt.Errorf("invalid model dimensions: %d keys, %d input timesteps, %d predicted timesteps",
			p.NumKeys, p.InputTimesteps, p.PredictTimesteps)
	}

	m := &Snapshot{
		Version:          snapshotVersion,
		CreatedAt:        time.Now().UTC(),
		NumKeys:          p.NumKeys,
		InputTimesteps:   p.InputTimesteps,
		PredictTimesteps: p.PredictTimesteps,
	}

	rng := rand.New(rand.NewSource(p.Seed))
	scale := 1.0 / math.Sqrt(float64(m.InputLen()))

	m.Weights = make([]float64, m.InputLen()*m.OutputLen())
	for i := range m.Weights {
		m.Weights[i] = rng.NormFloat64() * scale
	}
	m.Bias = make([]float64, m.OutputLen())

	return m, nil
}

// InputLen is the number of notes the model consumes per prediction: its
// receptive field in time steps times the key count.
func (m *Snapshot) InputLen() int {
	return m.InputTimesteps * m.NumKeys
}

// OutputLen is the number of notes predicted per sample.
func (m *Snapshot) OutputLen() int {
	return m.PredictTimesteps * m.NumKeys
}

func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var m Snapshot
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if m.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported model version %d", m.Version)
	}
	if len(m.Weights) != m.InputLen()*m.OutputLen() || len(m.Bias) != m.OutputLen() {
		return nil, fmt.Errorf("model parameter shapes do not match declared dimensions")
	}

	return &m, nil
}

func (m *Snapshot) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// Compile attaches an optimizer. Only Adam is supported; an unknown kind is
// rejected so the run aborts before any training happens.
func (m *Snapshot) Compile(kind string, kwargs map[string]float64) error {
	if kind != "adam" {
		return fmt.Errorf("optimizer kind %q is not supported", kind)
	}

	params := len(m.Weights) + len(m.Bias)
	m.Optimizer = &OptimizerState{
		Kind:   kind,
		Kwargs: kwargs,
		M:      make([]float64, params),
		V:      make([]float64, params),
	}
	m.Compiled = true
	return nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Predict runs the forward pass over one input window and returns per-note
// probabilities for the predicted steps.
func (m *Snapshot) Predict(window []bool) ([]float64, error) {
	if len(window) != m.InputLen() {
		return nil, fmt.Errorf("input window of %d notes, model expects %d", len(window), m.InputLen())
	}

	out := make([]float64, m.OutputLen())
	for o := range out {
		z := m.Bias[o]
		row := m.Weights[o*m.InputLen():]
		for i, on := range window {
			if on {
				z += row[i]
			}
		}
		out[o] = sigmoid(z)
	}
	return out, nil
}
