package notes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/clavier/internal/pianoroll"
)

func TestNewFromRoll(t *testing.T) {
	roll := pianoroll.New(4)
	roll.Set(0, 21, true)  // lowest key of the crop window
	roll.Set(2, 60, true)  // middle C
	roll.Set(3, 108, true) // highest key of the window

	b, err := New(Config{Roll: roll, MinKey: 21, NumKeys: 88, Resolution: 1.0})
	require.NoError(t, err)

	assert.Equal(t, 4*88, b.LengthInNotes())
	assert.Equal(t, 4, b.LengthInTimesteps())
	assert.True(t, b.At(0, 0))
	assert.True(t, b.At(2, 60-21))
	assert.True(t, b.At(3, 108-21))
}

func TestNewFromFlat(t *testing.T) {
	flat := make([]bool, 2*88)
	flat[3] = true
	flat[88+10] = true

	b, err := New(Config{Flat: flat, MinKey: 21, NumKeys: 88, Resolution: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 2, b.TimeSteps())
	assert.Equal(t, 0.5, b.Resolution())
	assert.True(t, b.At(0, 3))
	assert.True(t, b.At(1, 10))

	// The buffer owns its copy.
	flat[3] = false
	assert.True(t, b.At(0, 3))
}

func TestNewValidation(t *testing.T) {
	roll := pianoroll.New(2)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"both initializers", Config{Roll: roll, Flat: make([]bool, 88), MinKey: 21, NumKeys: 88, Resolution: 1.0}},
		{"no initializer", Config{MinKey: 21, NumKeys: 88, Resolution: 1.0}},
		{"key window too high", Config{Roll: roll, MinKey: 60, NumKeys: 80, Resolution: 1.0}},
		{"zero resolution", Config{Roll: roll, MinKey: 21, NumKeys: 88, Resolution: 0}},
		{"resolution above one", Config{Roll: roll, MinKey: 21, NumKeys: 88, Resolution: 1.5}},
		{"partial timestep in flat", Config{Flat: make([]bool, 87), MinKey: 21, NumKeys: 88, Resolution: 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)

			var cerr *ConstructionError
			assert.True(t, errors.As(err, &cerr))
		})
	}
}

func TestDecodeRoundTripAtFullResolution(t *testing.T) {
	roll := pianoroll.New(6)
	roll.Set(0, 30, true)
	roll.Set(1, 30, true)
	roll.Set(4, 95, true)
	// Outside the crop window; lost by encoding.
	roll.Set(2, 5, true)

	b, err := New(Config{Roll: roll, MinKey: 21, NumKeys: 88, Resolution: 1.0})
	require.NoError(t, err)

	back := b.Decode()
	require.Equal(t, 6, back.Steps())

	assert.True(t, back.At(0, 30))
	assert.True(t, back.At(1, 30))
	assert.True(t, back.At(4, 95))
	assert.False(t, back.At(2, 5))

	// Everything inside the window survives exactly.
	for step := 0; step < 6; step++ {
		for key := 21; key < 21+88; key++ {
			assert.Equal(t, roll.At(step, key), back.At(step, key), "step %d key %d", step, key)
		}
	}
}

func TestDecodeInverseStretch(t *testing.T) {
	roll := pianoroll.New(8)
	for step := 0; step < 8; step++ {
		roll.Set(step, 60, true)
	}

	b, err := New(Config{Roll: roll, MinKey: 21, NumKeys: 88, Resolution: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 4, b.TimeSteps())

	back := b.Decode()
	require.Equal(t, 8, back.Steps())
	for step := 0; step < 8; step++ {
		assert.True(t, back.At(step, 60))
	}
}

func TestFlatReturnsCopy(t *testing.T) {
	roll := pianoroll.New(1)
	roll.Set(0, 21, true)

	b, err := New(Config{Roll: roll, MinKey: 21, NumKeys: 88, Resolution: 1.0})
	require.NoError(t, err)

	flat := b.Flat()
	flat[0] = false
	assert.True(t, b.At(0, 0))
}
