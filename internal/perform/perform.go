// Package perform generates new performance material by running a trained
// model autoregressively over its own output.
package perform

import (
	"fmt"
	"math/rand"

	"github.com/mpataki/clavier/internal/model"
	"github.com/mpataki/clavier/internal/notes"
	"github.com/mpataki/clavier/internal/pianoroll"
)

// Generate continues a seed performance by the given number of time steps.
// The seed is encoded at the model's key window, padded with leading silence
// when shorter than the model's receptive field, and each new step is
// sampled from the model's predicted probabilities one step at a time. The
// returned roll contains the (padded) seed followed by the generated steps.
func Generate(m *model.Snapshot, seed *pianoroll.Roll, steps, minKey int, rng *rand.Rand) (*pianoroll.Roll, error) {
	if steps < 1 {
		return nil, fmt.Errorf("must generate at least one time step, got %d", steps)
	}

	receptive := m.InputTimesteps
	if seed.Steps() < receptive {
		seed = seed.PadLeading(receptive - seed.Steps())
	}

	buf, err := notes.New(notes.Config{
		Roll:       seed,
		MinKey:     minKey,
		NumKeys:    m.NumKeys,
		Resolution: 1.0,
	})
	if err != nil {
		return nil, err
	}

	stream := buf.Flat()
	inputLen := m.InputLen()

	for step := 0; step < steps; step++ {
		window := stream[len(stream)-inputLen:]
		probs, err := m.Predict(window)
		if err != nil {
			return nil, err
		}

		// Only the first predicted step is kept; generating one step at a
		// time keeps every prediction conditioned on sampled history.
		frame := make([]bool, m.NumKeys)
		for k := 0; k < m.NumKeys; k++ {
			frame[k] = rng.Float64() < probs[k]
		}
		stream = append(stream, frame...)
	}

	out, err := notes.New(notes.Config{
		Flat:       stream,
		MinKey:     minKey,
		NumKeys:    m.NumKeys,
		Resolution: 1.0,
	})
	if err != nil {
		return nil, err
	}
	return out.Decode(), nil
}

// SecondsToSteps converts seconds of material to roll time steps.
func SecondsToSteps(seconds float64) int {
	return int(seconds * pianoroll.StepsPerSecond)
}
