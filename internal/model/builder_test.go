package model

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecBuilderRunsBinary(t *testing.T) {
	dir := t.TempDir()

	// A builder that copies its parameter file to the output path.
	builderPath := filepath.Join(dir, "builder.sh")
	script := "#!/bin/sh\ncp \"$1\" \"$2\"\n"
	require.NoError(t, os.WriteFile(builderPath, []byte(script), 0755))

	outputPath := filepath.Join(dir, "out.model")
	params := map[string]any{"num_keys": float64(8)}

	err := ExecBuilder{}.Build(context.Background(), builderPath, params, outputPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, params, got)

	// The parameter file is cleaned up after the build.
	_, err = os.Stat(filepath.Join(dir, "model_parameters.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecBuilderReportsFailure(t *testing.T) {
	dir := t.TempDir()

	builderPath := filepath.Join(dir, "builder.sh")
	require.NoError(t, os.WriteFile(builderPath, []byte("#!/bin/sh\nexit 3\n"), 0755))

	err := ExecBuilder{}.Build(context.Background(), builderPath, nil, filepath.Join(dir, "out.model"))
	require.Error(t, err)
}

func TestFuncBuilder(t *testing.T) {
	called := false
	fb := FuncBuilder(func(ctx context.Context, builderPath string, params map[string]any, outputPath string) error {
		called = true
		assert.Equal(t, "b", builderPath)
		assert.Equal(t, "o", outputPath)
		return nil
	})

	require.NoError(t, fb.Build(context.Background(), "b", nil, "o"))
	assert.True(t, called)
}
