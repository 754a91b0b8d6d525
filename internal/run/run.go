// Package run drives a single resumable training session bound to a run
// directory. The directory owns everything: the description, the persisted
// state record, and every artifact each generation of the run produces,
// named "<runIndex>_<base>". A process restart plus re-open is the only
// recovery path; nothing here defends against concurrent access to one
// directory.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/mpataki/clavier/internal/dataset"
	"github.com/mpataki/clavier/internal/model"
	"github.com/mpataki/clavier/internal/pianoroll"
	"github.com/mpataki/clavier/internal/storage"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is the persisted run record. RunIndex counts generations: it starts
// at 0 and goes up by exactly one on every resume.
type State struct {
	RunIndex int    `json:"run_index"`
	Status   Status `json:"status"`
}

const (
	stateFile     = "state.json"
	logFile       = "output.log"
	trainedModel  = "trained.model"
	initialModel  = "initial.model"
	generatorFile = "generator_state.json"
)

// sampleSeed keys both sample sources so batch ordering is reproducible
// across generations of a run.
const sampleSeed = 0

// ArtifactMirror uploads checkpoint artifacts to a remote store.
// *artifacts.Mirror implements it.
type ArtifactMirror interface {
	UploadFile(ctx context.Context, prefix, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Deps are the run's external collaborators. Builder defaults to the
// external-binary builder; Registry and Mirror are optional and always
// best-effort.
type Deps struct {
	Builder  model.Builder
	Registry *storage.Registry
	Mirror   ArtifactMirror
	Logger   *slog.Logger
}

// Run is a transient view over one run directory, reconstructed fresh on
// every process start by Open.
type Run struct {
	dir    string
	state  State
	desc   Description
	source ModelSource
	deps   Deps

	// resumedFrom is the run index whose artifacts this generation continues
	// from, or -1 for a fresh run. Found by probing backward, so it is not
	// necessarily RunIndex-1 when an earlier generation crashed inside its
	// checkpoint.
	resumedFrom int

	log     *slog.Logger
	logFile *os.File
}

// Open loads the run directory and performs the fresh-or-resume transition.
//
// A directory with no state record starts fresh at run index 0. A directory
// with one resumes: the index goes up by one, and the model source is
// rewritten to the newest predecessor index that actually has a trained
// model artifact, dropping any build-from-scratch directive. A resumed run
// must never silently re-initialize its model, so finding no predecessor
// artifact at all is a ResumeConsistencyError.
//
// Configuration problems surface here, before any state is written.
func Open(dir string, deps Deps) (*Run, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run directory: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("run directory %s does not exist", absDir)}
	}

	desc, err := loadDescription(absDir)
	if err != nil {
		return nil, err
	}

	source, err := resolveModelSource(desc.Model)
	if err != nil {
		return nil, err
	}

	if deps.Builder == nil {
		deps.Builder = model.ExecBuilder{}
	}

	r := &Run{
		dir:         absDir,
		desc:        desc,
		source:      source,
		deps:        deps,
		resumedFrom: -1,
	}
	if err := r.openLog(deps.Logger); err != nil {
		return nil, err
	}

	statePath := filepath.Join(absDir, stateFile)
	if _, err := os.Stat(statePath); err == nil {
		if err := r.loadState(); err != nil {
			r.Close()
			return nil, err
		}
		r.state.RunIndex++
		r.state.Status = StatusRunning

		prev, ok := r.probePredecessor()
		if !ok {
			r.Close()
			return nil, &ResumeConsistencyError{
				Reason: fmt.Sprintf("resuming at run index %d but no earlier index has a %s artifact", r.state.RunIndex, trainedModel),
			}
		}
		r.resumedFrom = prev

		prevModel := r.prefixedPath(prev, trainedModel)
		r.log.Info("saved state found, resuming", "run_index", r.state.RunIndex, "model", prevModel)

		// A resumed run always continues from the predecessor's model, even
		// if the description still says to build one from scratch.
		r.source = FromPath{Path: prevModel}
		r.desc.Model.ModelPath = prevModel
		r.desc.Model.Initializer = nil
	} else {
		r.state = State{RunIndex: 0, Status: StatusRunning}
		r.log.Info("no saved state found, starting as a new run")
	}

	return r, nil
}

func (r *Run) openLog(base *slog.Logger) error {
	f, err := os.OpenFile(filepath.Join(r.dir, logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	r.logFile = f

	if base != nil {
		r.log = base.With("run_dir", r.dir)
		return nil
	}
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil)
	r.log = slog.New(h).With("run_dir", r.dir)
	return nil
}

func (r *Run) Close() error {
	if r.logFile != nil {
		return r.logFile.Close()
	}
	return nil
}

func (r *Run) Dir() string   { return r.dir }
func (r *Run) State() State  { return r.state }
func (r *Run) RunIndex() int { return r.state.RunIndex }

// ModelSource exposes the resolved source, after any resume rewrite.
func (r *Run) ModelSource() ModelSource { return r.source }

// Description exposes the effective description, after any resume rewrite.
func (r *Run) Description() Description { return r.desc }

func (r *Run) prefixedPath(index int, base string) string {
	return filepath.Join(r.dir, strconv.Itoa(index)+"_"+base)
}

// artifactPath names an artifact for the current run index.
func (r *Run) artifactPath(base string) string {
	return r.prefixedPath(r.state.RunIndex, base)
}

// probePredecessor scans backward from the previous run index for the
// newest generation that left a trained model. A crash between the state
// write and the model write of a composite checkpoint can leave the
// immediately preceding index without one, so the immediate predecessor is
// never assumed complete.
func (r *Run) probePredecessor() (int, bool) {
	for i := r.state.RunIndex - 1; i >= 0; i-- {
		if _, err := os.Stat(r.prefixedPath(i, trainedModel)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (r *Run) loadState() error {
	data, err := os.ReadFile(filepath.Join(r.dir, stateFile))
	if err != nil {
		return fmt.Errorf("failed to read run state: %w", err)
	}
	if err := json.Unmarshal(data, &r.state); err != nil {
		return fmt.Errorf("failed to parse run state: %w", err)
	}
	return nil
}

func (r *Run) saveState() error {
	data, err := json.MarshalIndent(r.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, stateFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	return nil
}

// Execute drives the training session to completion. It blocks for the
// whole session; ctx cancellation is the only way to stop it early.
func (r *Run) Execute(ctx context.Context) error {
	r.log.Info("beginning run", "run_index", r.state.RunIndex, "status", r.state.Status)

	// Archive the effective description under this generation's prefix.
	if err := r.archiveDescription(); err != nil {
		return r.fail(err)
	}

	trainCorpus, validCorpus, err := r.fetchData()
	if err != nil {
		return r.fail(err)
	}
	numKeys := trainCorpus.NumKeys

	m, err := r.fetchModel(ctx, numKeys)
	if err != nil {
		return r.fail(err)
	}

	trainSrc, validSrc, err := r.buildSources(m, trainCorpus, validCorpus)
	if err != nil {
		return r.fail(err)
	}

	if r.state.RunIndex != 0 {
		cursorPath := r.prefixedPath(r.resumedFrom, generatorFile)
		if _, err := os.Stat(cursorPath); err != nil {
			return r.fail(&ResumeConsistencyError{
				Reason: fmt.Sprintf("expected sample cursor %s from run index %d is missing", cursorPath, r.resumedFrom),
			})
		}
		if err := trainSrc.LoadState(cursorPath); err != nil {
			return r.fail(err)
		}
		r.log.Info("restored sample cursor", "path", cursorPath)
	}

	// Compile only on the very first generation; resumptions reuse the
	// already-compiled optimizer state carried in the snapshot.
	// TODO: recompile when the optimizer description changed between runs.
	if r.state.RunIndex == 0 {
		opt := r.desc.Training.Optimizer
		if err := m.Compile(opt.Kind, opt.Kwargs); err != nil {
			return r.fail(&ConfigurationError{Reason: err.Error()})
		}
		r.log.Info("compiled model", "optimizer", opt.Kind)
	}

	r.log.Info("sample sources ready", "training", trainSrc.Summary(), "validation", validSrc.Summary())

	stepsPerEpoch := int(r.desc.Training.FractionDataEachEpoch * float64(trainSrc.TotalBatches()))
	if stepsPerEpoch < 1 {
		stepsPerEpoch = 1
	}
	validationSteps := int(r.desc.Validation.FractionDataEachEpoch * float64(validSrc.TotalBatches()))

	r.log.Info("training plan",
		"epochs", r.desc.Training.Epochs,
		"steps_per_epoch", stepsPerEpoch,
		"validation_steps", validationSteps,
		"checkpoint_frequency", r.desc.Training.CheckpointFrequencyInBatches,
	)

	modelPath := r.artifactPath(trainedModel)
	freq := r.desc.Training.CheckpointFrequencyInBatches
	totalBatches := r.desc.Training.Epochs * stepsPerEpoch

	cb := model.Callbacks{
		AfterBatch: func(batchesDone int, loss float64) error {
			// Per-step snapshot: every processed batch overwrites this
			// generation's trained model.
			if err := m.Save(modelPath); err != nil {
				return err
			}
			batchesProcessed.Inc()

			if batchesDone%freq == 0 {
				if err := r.checkpoint(m, trainSrc, batchesDone, totalBatches, loss); err != nil {
					return err
				}
			}
			return nil
		},
		AfterEpoch: func(epoch int, trainLoss, validLoss float64) error {
			r.log.Info("epoch complete", "epoch", epoch, "train_loss", trainLoss, "valid_loss", validLoss)
			return nil
		},
	}

	err = m.Fit(ctx, trainSrc, validSrc, model.FitConfig{
		Epochs:          r.desc.Training.Epochs,
		StepsPerEpoch:   stepsPerEpoch,
		ValidationSteps: validationSteps,
	}, cb)
	if err != nil {
		return r.fail(fmt.Errorf("training failed: %w", err))
	}

	r.state.Status = StatusCompleted
	if err := r.saveState(); err != nil {
		return err
	}
	r.touchRegistry()
	r.log.Info("run complete", "run_index", r.state.RunIndex)
	return nil
}

func (r *Run) archiveDescription() error {
	data, err := json.MarshalIndent(r.desc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run description: %w", err)
	}
	if err := os.WriteFile(r.artifactPath(descriptionJSON), data, 0644); err != nil {
		return fmt.Errorf("failed to archive run description: %w", err)
	}
	return nil
}

func (r *Run) fetchData() (*dataset.Corpus, *dataset.Corpus, error) {
	r.log.Info("loading training corpus", "path", r.desc.Data.TrainingCorpusPath)
	train, err := dataset.LoadCorpus(r.desc.Data.TrainingCorpusPath)
	if err != nil {
		return nil, nil, err
	}

	r.log.Info("loading validation corpus", "path", r.desc.Data.ValidationCorpusPath)
	valid, err := dataset.LoadCorpus(r.desc.Data.ValidationCorpusPath)
	if err != nil {
		return nil, nil, err
	}

	if valid.NumKeys != train.NumKeys {
		return nil, nil, &ConfigurationError{
			Reason: fmt.Sprintf("training corpus has %d keys but validation corpus has %d", train.NumKeys, valid.NumKeys),
		}
	}
	return train, valid, nil
}

func (r *Run) fetchModel(ctx context.Context, numKeys int) (*model.Snapshot, error) {
	var path string

	switch src := r.source.(type) {
	case FromPath:
		path = src.Path
		r.log.Info("loading model", "path", path)

	case FromBuilder:
		path = r.artifactPath(initialModel)
		r.log.Info("initializing model", "builder", src.BuilderPath, "output", path)
		if err := r.deps.Builder.Build(ctx, src.BuilderPath, src.Params, path); err != nil {
			return nil, &ExternalProcessError{Command: src.BuilderPath, Err: err}
		}

	default:
		return nil, &ConfigurationError{Reason: "no model source resolved"}
	}

	m, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	if m.NumKeys != numKeys {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("model predicts %d keys but the corpus is encoded with %d", m.NumKeys, numKeys),
		}
	}

	receptive := m.InputLen() / numKeys
	r.log.Info("model ready",
		"notes_in_input", m.InputLen(),
		"receptive_field_timesteps", receptive,
		"receptive_field_seconds", float64(receptive)/pianoroll.StepsPerSecond,
	)
	return m, nil
}

func (r *Run) buildSources(m *model.Snapshot, train, valid *dataset.Corpus) (*dataset.SampleSource, *dataset.SampleSource, error) {
	numKeys := train.NumKeys

	trainSrc, err := dataset.NewSampleSource(
		train,
		m.InputLen(),
		numKeys*r.desc.Training.NumPredictedTimeStepsInSample,
		r.desc.Training.BatchSize,
		sampleSeed,
	)
	if err != nil {
		return nil, nil, err
	}

	validSrc, err := dataset.NewSampleSource(
		valid,
		m.InputLen(),
		numKeys*r.desc.Validation.NumPredictedTimeStepsInSample,
		r.desc.Validation.BatchSize,
		sampleSeed,
	)
	if err != nil {
		return nil, nil, err
	}

	return trainSrc, validSrc, nil
}

// checkpoint persists the resumable state of the run: the state record, the
// model snapshot, and the sample cursor, in that order. The ordering is the
// only consistency mechanism; a crash between the sub-writes is recovered by
// the backward probe in Open, not prevented here. A failed sub-write aborts
// the run: training past it would let the session finish with a stale durable
// checkpoint. Registry and mirror updates stay best-effort.
func (r *Run) checkpoint(m *model.Snapshot, src *dataset.SampleSource, batch, totalBatches int, loss float64) error {
	if err := r.saveState(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := m.Save(r.artifactPath(trainedModel)); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := src.SaveState(r.artifactPath(generatorFile)); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	checkpointsWritten.Inc()
	r.log.Info("checkpoint written", "batch", batch, "loss", loss)

	r.touchRegistry()
	if r.deps.Registry != nil {
		if err := r.deps.Registry.RecordCheckpoint(r.dir, r.state.RunIndex, batch, totalBatches, loss); err != nil {
			r.log.Warn("failed to index checkpoint", "err", err)
		}
	}
	r.mirrorArtifacts()
	return nil
}

// touchRegistry updates the run index row. Best effort: the registry is a
// convenience index, never authoritative.
func (r *Run) touchRegistry() {
	if r.deps.Registry == nil {
		return
	}
	if err := r.deps.Registry.Touch(r.dir, r.state.RunIndex, string(r.state.Status)); err != nil {
		r.log.Warn("failed to index run", "err", err)
	}
}

func (r *Run) mirrorArtifacts() {
	if r.deps.Mirror == nil {
		return
	}

	ctx := context.Background()
	prefix := filepath.Base(r.dir)

	// The archived description never changes within a generation, so it is
	// only uploaded when the mirror does not hold it yet.
	descLocal := r.artifactPath(descriptionJSON)
	descKey := path.Join(prefix, filepath.Base(descLocal))
	if exists, err := r.deps.Mirror.Exists(ctx, descKey); err != nil {
		r.log.Warn("failed to check mirrored description", "key", descKey, "err", err)
	} else if !exists {
		if err := r.deps.Mirror.UploadFile(ctx, prefix, descLocal); err != nil {
			r.log.Warn("failed to mirror artifact", "path", descLocal, "err", err)
		}
	}

	for _, local := range []string{
		filepath.Join(r.dir, stateFile),
		r.artifactPath(trainedModel),
		r.artifactPath(generatorFile),
	} {
		if err := r.deps.Mirror.UploadFile(ctx, prefix, local); err != nil {
			r.log.Warn("failed to mirror artifact", "path", local, "err", err)
		}
	}
}

// fail marks the run failed when a state record already exists on disk.
// Earlier failures leave the directory untouched so a retry starts fresh.
func (r *Run) fail(err error) error {
	if _, statErr := os.Stat(filepath.Join(r.dir, stateFile)); statErr == nil {
		r.state.Status = StatusFailed
		if saveErr := r.saveState(); saveErr != nil {
			r.log.Error("failed to persist failure state", "err", saveErr)
		}
		r.touchRegistry()
	}
	r.log.Error("run failed", "run_index", r.state.RunIndex, "err", err)
	return err
}

// ReadState loads the persisted state record from a run directory without
// performing the resume transition. Used by status displays.
func ReadState(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &st, nil
}

// LogPath returns the run directory's output log path.
func LogPath(dir string) string {
	return filepath.Join(dir, logFile)
}
