package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T) *Snapshot {
	t.Helper()
	m, err := Init(InitParams{NumKeys: 8, InputTimesteps: 4, PredictTimesteps: 1, Seed: 1})
	require.NoError(t, err)
	return m
}

func TestInitValidation(t *testing.T) {
	_, err := Init(InitParams{NumKeys: 0, InputTimesteps: 4, PredictTimesteps: 1})
	require.Error(t, err)

	_, err = Init(InitParams{NumKeys: 8, InputTimesteps: 0, PredictTimesteps: 1})
	require.Error(t, err)

	_, err = Init(InitParams{NumKeys: 8, InputTimesteps: 4, PredictTimesteps: 0})
	require.Error(t, err)
}

func TestInitShapes(t *testing.T) {
	m := testModel(t)

	assert.Equal(t, 32, m.InputLen())
	assert.Equal(t, 8, m.OutputLen())
	assert.Len(t, m.Weights, 32*8)
	assert.Len(t, m.Bias, 8)
	assert.False(t, m.Compiled)
}

func TestInitIsSeeded(t *testing.T) {
	a, err := Init(InitParams{NumKeys: 8, InputTimesteps: 4, PredictTimesteps: 1, Seed: 42})
	require.NoError(t, err)
	b, err := Init(InitParams{NumKeys: 8, InputTimesteps: 4, PredictTimesteps: 1, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, a.Weights, b.Weights)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := testModel(t)
	require.NoError(t, m.Compile("adam", map[string]float64{"learning_rate": 0.01}))

	path := filepath.Join(t.TempDir(), "test.model")
	require.NoError(t, m.Save(path))

	back, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, m.NumKeys, back.NumKeys)
	assert.Equal(t, m.InputTimesteps, back.InputTimesteps)
	assert.Equal(t, m.PredictTimesteps, back.PredictTimesteps)
	assert.Equal(t, m.Weights, back.Weights)
	assert.Equal(t, m.Bias, back.Bias)
	assert.True(t, back.Compiled)
	require.NotNil(t, back.Optimizer)
	assert.Equal(t, "adam", back.Optimizer.Kind)
}

func TestLoadRejectsBadShapes(t *testing.T) {
	m := testModel(t)
	m.Weights = m.Weights[:10]

	path := filepath.Join(t.TempDir(), "bad.model")
	require.NoError(t, m.Save(path))

	_, err := Load(path)
	require.Error(t, err)
}

func TestCompileRejectsUnknownOptimizer(t *testing.T) {
	m := testModel(t)
	require.Error(t, m.Compile("sgd", nil))
	assert.False(t, m.Compiled)
}

func TestCompileAllocatesMoments(t *testing.T) {
	m := testModel(t)
	require.NoError(t, m.Compile("adam", nil))

	require.NotNil(t, m.Optimizer)
	assert.Len(t, m.Optimizer.M, len(m.Weights)+len(m.Bias))
	assert.Len(t, m.Optimizer.V, len(m.Weights)+len(m.Bias))
}

func TestPredict(t *testing.T) {
	m := testModel(t)

	probs, err := m.Predict(make([]bool, m.InputLen()))
	require.NoError(t, err)
	require.Len(t, probs, m.OutputLen())
	for _, p := range probs {
		assert.Greater(t, p, 0.0)
		assert.Less(t, p, 1.0)
	}

	_, err = m.Predict(make([]bool, 3))
	require.Error(t, err)
}
