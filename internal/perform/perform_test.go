package perform

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/clavier/internal/model"
	"github.com/mpataki/clavier/internal/pianoroll"
)

func testModel(t *testing.T) *model.Snapshot {
	t.Helper()
	m, err := model.Init(model.InitParams{NumKeys: 8, InputTimesteps: 3, PredictTimesteps: 1, Seed: 1})
	require.NoError(t, err)
	return m
}

func TestGenerateExtendsSeed(t *testing.T) {
	m := testModel(t)

	seed := pianoroll.New(5)
	seed.Set(4, 62, true)

	rng := rand.New(rand.NewSource(1))
	out, err := Generate(m, seed, 10, 60, rng)
	require.NoError(t, err)

	assert.Equal(t, 15, out.Steps())
	// The seed material survives at the front of the result.
	assert.True(t, out.At(4, 62))
}

func TestGeneratePadsShortSeed(t *testing.T) {
	m := testModel(t)

	// One step of seed against a three step receptive field.
	seed := pianoroll.New(1)

	rng := rand.New(rand.NewSource(1))
	out, err := Generate(m, seed, 4, 60, rng)
	require.NoError(t, err)

	// Padded seed plus the generated steps.
	assert.Equal(t, 7, out.Steps())
}

func TestGenerateIsSeeded(t *testing.T) {
	m := testModel(t)
	seed := pianoroll.New(3)
	seed.Set(0, 61, true)

	a, err := Generate(m, seed, 8, 60, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := Generate(m, seed, 8, 60, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	require.Equal(t, a.Steps(), b.Steps())
	for step := 0; step < a.Steps(); step++ {
		for key := 0; key < pianoroll.NumKeys; key++ {
			assert.Equal(t, a.At(step, key), b.At(step, key))
		}
	}
}

func TestGenerateRequiresSteps(t *testing.T) {
	m := testModel(t)
	_, err := Generate(m, pianoroll.New(3), 0, 60, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestSecondsToSteps(t *testing.T) {
	assert.Equal(t, 48, SecondsToSteps(1.0))
	assert.Equal(t, 96, SecondsToSteps(2.0))
	assert.Equal(t, 4, SecondsToSteps(0.1))
}
