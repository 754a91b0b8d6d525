package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mpataki/clavier/internal/runscript"
)

// Description is the run_description schema: where the data lives, how to
// obtain the initial model, and how to train it.
type Description struct {
	Data       DataDescription       `json:"data_description"`
	Model      ModelDescription      `json:"model_description"`
	Training   TrainingDescription   `json:"training_description"`
	Validation ValidationDescription `json:"validation_description"`
}

type DataDescription struct {
	TrainingCorpusPath   string `json:"training_corpus_path"`
	ValidationCorpusPath string `json:"validation_corpus_path"`
}

// ModelInitializer names an external builder and the parameters to hand it.
type ModelInitializer struct {
	Path   string         `json:"path"`
	Params map[string]any `json:"params"`
}

// ModelDescription points at a saved model, or at an initializer to build
// one. An empty ModelPath means "build new".
type ModelDescription struct {
	ModelPath   string            `json:"model_path"`
	Initializer *ModelInitializer `json:"model_initializer,omitempty"`
}

type OptimizerDescription struct {
	Kind   string             `json:"kind"`
	Kwargs map[string]float64 `json:"kwargs"`
}

type TrainingDescription struct {
	BatchSize                     int                  `json:"batch_size"`
	NumPredictedTimeStepsInSample int                  `json:"num_predicted_time_steps_in_sample"`
	Optimizer                     OptimizerDescription `json:"optimizer_description"`
	FractionDataEachEpoch         float64              `json:"fraction_data_each_epoch"`
	Epochs                        int                  `json:"epochs"`
	CheckpointFrequencyInBatches  int                  `json:"checkpoint_frequency_in_batches"`
}

type ValidationDescription struct {
	BatchSize                     int     `json:"batch_size"`
	NumPredictedTimeStepsInSample int     `json:"num_predicted_time_steps_in_sample"`
	FractionDataEachEpoch         float64 `json:"fraction_data_each_epoch"`
}

// ModelSource is the resolved way to obtain the run's model: exactly one of
// a path to a saved snapshot or a builder directive.
type ModelSource interface {
	modelSource()
}

type FromPath struct {
	Path string
}

type FromBuilder struct {
	BuilderPath string
	Params      map[string]any
}

func (FromPath) modelSource()    {}
func (FromBuilder) modelSource() {}

// resolveModelSource turns the description's two optional fields into a
// single variant. A set path wins over an initializer; neither present is a
// configuration error.
func resolveModelSource(md ModelDescription) (ModelSource, error) {
	if md.ModelPath != "" {
		return FromPath{Path: md.ModelPath}, nil
	}
	if md.Initializer != nil {
		if md.Initializer.Path == "" {
			return nil, &ConfigurationError{Reason: "model_initializer is present but names no builder"}
		}
		return FromBuilder{BuilderPath: md.Initializer.Path, Params: md.Initializer.Params}, nil
	}
	return nil, &ConfigurationError{Reason: "no way to create or load the model: model_path is empty and no model_initializer is given"}
}

const (
	descriptionJSON = "run_description.json"
	descriptionLua  = "run_description.lua"
)

// loadDescription reads the run description from the run directory, Lua
// taking precedence over JSON when both exist.
func loadDescription(dir string) (Description, error) {
	var desc Description

	luaPath := filepath.Join(dir, descriptionLua)
	if _, err := os.Stat(luaPath); err == nil {
		data, err := runscript.Load(luaPath)
		if err != nil {
			return desc, &ConfigurationError{Reason: err.Error()}
		}
		if err := json.Unmarshal(data, &desc); err != nil {
			return desc, &ConfigurationError{Reason: fmt.Sprintf("invalid %s: %v", descriptionLua, err)}
		}
		return desc, desc.validate()
	}

	data, err := os.ReadFile(filepath.Join(dir, descriptionJSON))
	if err != nil {
		return desc, &ConfigurationError{Reason: fmt.Sprintf("no run description in %s: %v", dir, err)}
	}
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, &ConfigurationError{Reason: fmt.Sprintf("invalid %s: %v", descriptionJSON, err)}
	}
	return desc, desc.validate()
}

func (d Description) validate() error {
	if d.Data.TrainingCorpusPath == "" {
		return &ConfigurationError{Reason: "data_description.training_corpus_path is required"}
	}
	if d.Data.ValidationCorpusPath == "" {
		return &ConfigurationError{Reason: "data_description.validation_corpus_path is required"}
	}
	if d.Training.BatchSize < 1 {
		return &ConfigurationError{Reason: "training_description.batch_size must be at least 1"}
	}
	if d.Training.NumPredictedTimeStepsInSample < 1 {
		return &ConfigurationError{Reason: "training_description.num_predicted_time_steps_in_sample must be at least 1"}
	}
	if d.Training.Epochs < 1 {
		return &ConfigurationError{Reason: "training_description.epochs must be at least 1"}
	}
	if d.Training.FractionDataEachEpoch <= 0 || d.Training.FractionDataEachEpoch > 1 {
		return &ConfigurationError{Reason: "training_description.fraction_data_each_epoch must be in (0, 1]"}
	}
	if d.Training.CheckpointFrequencyInBatches < 1 {
		return &ConfigurationError{Reason: "training_description.checkpoint_frequency_in_batches must be at least 1"}
	}
	if d.Training.Optimizer.Kind == "" {
		return &ConfigurationError{Reason: "training_description.optimizer_description.kind is required"}
	}
	if d.Validation.BatchSize < 1 {
		return &ConfigurationError{Reason: "validation_description.batch_size must be at least 1"}
	}
	if d.Validation.NumPredictedTimeStepsInSample < 1 {
		return &ConfigurationError{Reason: "validation_description.num_predicted_time_steps_in_sample must be at least 1"}
	}
	if d.Validation.FractionDataEachEpoch <= 0 || d.Validation.FractionDataEachEpoch > 1 {
		return &ConfigurationError{Reason: "validation_description.fraction_data_each_epoch must be in (0, 1]"}
	}
	return nil
}
