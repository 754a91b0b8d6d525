package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Builder constructs a new model snapshot at outputPath using the named
// builder and its opaque parameters. The run state machine depends on this
// interface rather than on any particular invocation mechanism.
type Builder interface {
	Build(ctx context.Context, builderPath string, params map[string]any, outputPath string) error
}

// ExecBuilder invokes an external builder binary as
//
//	<builderPath> <params-file> <output-path>
//
// where params-file is a JSON file holding the builder parameters. A
// non-zero exit is returned as an error wrapping the exec failure.
type ExecBuilder struct{}

func (ExecBuilder) Build(ctx context.Context, builderPath string, params map[string]any, outputPath string) error {
	paramsPath := filepath.Join(filepath.Dir(outputPath), "model_parameters.json")

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal builder params: %w", err)
	}
	if err := os.WriteFile(paramsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write builder params: %w", err)
	}
	defer os.Remove(paramsPath)

	cmd := exec.CommandContext(ctx, builderPath, paramsPath, outputPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("builder %s failed: %w: %s", builderPath, err, string(output))
	}
	return nil
}

// FuncBuilder adapts a plain function to the Builder interface.
type FuncBuilder func(ctx context.Context, builderPath string, params map[string]any, outputPath string) error

func (f FuncBuilder) Build(ctx context.Context, builderPath string, params map[string]any, outputPath string) error {
	return f(ctx, builderPath, params, outputPath)
}
