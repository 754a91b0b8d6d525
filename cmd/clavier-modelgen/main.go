// clavier-modelgen is the default model builder invoked by a run whose
// description names no existing model. It reads the parameter file a run
// writes next to the output path and saves a fresh untrained model.
//
// Usage: clavier-modelgen <params-file> <output-path>
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mpataki/clavier/internal/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "clavier-modelgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: clavier-modelgen <params-file> <output-path>")
	}
	paramsFile, outputPath := args[0], args[1]

	data, err := os.ReadFile(paramsFile)
	if err != nil {
		return fmt.Errorf("failed to read parameter file: %w", err)
	}

	var params model.InitParams
	if err := json.Unmarshal(data, &params); err != nil {
		return fmt.Errorf("failed to parse parameter file: %w", err)
	}

	m, err := model.Init(params)
	if err != nil {
		return err
	}

	if err := m.Save(outputPath); err != nil {
		return err
	}

	fmt.Printf("Wrote %s: %d keys, %d input timesteps, %d predicted timesteps\n",
		outputPath, m.NumKeys, m.InputTimesteps, m.PredictTimesteps)
	return nil
}
