package model

import (
	"context"
	"fmt"
	"math"

	"github.com/mpataki/clavier/internal/dataset"
)

// FitConfig sizes one training session.
type FitConfig struct {
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
}

// Callbacks hook the training loop. AfterBatch fires once per processed
// batch with the running batch count across the whole session; returning an
// error aborts training. AfterEpoch fires with the epoch's mean losses.
type Callbacks struct {
	AfterBatch func(batchesDone int, loss float64) error
	AfterEpoch func(epoch int, trainLoss, validLoss float64) error
}

const epsilonFloor = 1e-12 // clamp for log arguments

// Fit trains the model over the given sources. The model must be compiled.
// The loop is synchronous; it returns only when all epochs complete, a
// callback aborts, or the context is cancelled.
func (m *Snapshot) Fit(ctx context.Context, train, valid *dataset.SampleSource, cfg FitConfig, cb Callbacks) error {
	if !m.Compiled || m.Optimizer == nil {
		return fmt.Errorf("model is not compiled")
	}
	if cfg.Epochs < 1 || cfg.StepsPerEpoch < 1 {
		return fmt.Errorf("fit requires at least one epoch and one step per epoch")
	}

	batchesDone := 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		trainLoss := 0.0
		for step := 0; step < cfg.StepsPerEpoch; step++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			inputs, targets := train.NextBatch()
			loss, err := m.trainBatch(inputs, targets)
			if err != nil {
				return err
			}
			trainLoss += loss
			batchesDone++

			if cb.AfterBatch != nil {
				if err := cb.AfterBatch(batchesDone, loss); err != nil {
					return err
				}
			}
		}
		trainLoss /= float64(cfg.StepsPerEpoch)

		validLoss := 0.0
		if valid != nil && cfg.ValidationSteps > 0 {
			for step := 0; step < cfg.ValidationSteps; step++ {
				inputs, targets := valid.NextBatch()
				loss, err := m.batchLoss(inputs, targets)
				if err != nil {
					return err
				}
				validLoss += loss
			}
			validLoss /= float64(cfg.ValidationSteps)
		}

		if cb.AfterEpoch != nil {
			if err := cb.AfterEpoch(epoch, trainLoss, validLoss); err != nil {
				return err
			}
		}
	}

	return nil
}

// trainBatch runs forward and backward over one batch and applies the Adam
// update. Returns the mean binary cross-entropy over the batch.
func (m *Snapshot) trainBatch(inputs, targets [][]bool) (float64, error) {
	inputLen := m.InputLen()
	outputLen := m.OutputLen()

	gradW := make([]float64, len(m.Weights))
	gradB := make([]float64, len(m.Bias))
	totalLoss := 0.0

	for b := range inputs {
		probs, err := m.Predict(inputs[b])
		if err != nil {
			return 0, err
		}
		if len(targets[b]) != outputLen {
			return 0, fmt.Errorf("target of %d notes, model predicts %d", len(targets[b]), outputLen)
		}

		for o, p := range probs {
			y := 0.0
			if targets[b][o] {
				y = 1.0
			}
			totalLoss += bce(p, y)

			// dL/dz for sigmoid + BCE collapses to (p - y).
			delta := p - y
			gradB[o] += delta
			row := gradW[o*inputLen:]
			for i, on := range inputs[b] {
				if on {
					row[i] += delta
				}
			}
		}
	}

	scale := 1.0 / float64(len(inputs))
	for i := range gradW {
		gradW[i] *= scale
	}
	for i := range gradB {
		gradB[i] *= scale
	}

	m.adamUpdate(gradW, gradB)

	return totalLoss * scale / float64(outputLen), nil
}

// batchLoss is the forward-only loss used for validation.
func (m *Snapshot) batchLoss(inputs, targets [][]bool) (float64, error) {
	total := 0.0
	for b := range inputs {
		probs, err := m.Predict(inputs[b])
		if err != nil {
			return 0, err
		}
		for o, p := range probs {
			y := 0.0
			if targets[b][o] {
				y = 1.0
			}
			total += bce(p, y)
		}
	}
	return total / float64(len(inputs)) / float64(m.OutputLen()), nil
}

func bce(p, y float64) float64 {
	return -(y*math.Log(math.Max(p, epsilonFloor)) + (1.0-y)*math.Log(math.Max(1.0-p, epsilonFloor)))
}

func (m *Snapshot) adamUpdate(gradW, gradB []float64) {
	opt := m.Optimizer
	lr := kwarg(opt.Kwargs, "learning_rate", 0.001)
	beta1 := kwarg(opt.Kwargs, "beta_1", 0.9)
	beta2 := kwarg(opt.Kwargs, "beta_2", 0.999)
	eps := kwarg(opt.Kwargs, "epsilon", 1e-8)

	opt.Step++
	bc1 := 1.0 - math.Pow(beta1, float64(opt.Step))
	bc2 := 1.0 - math.Pow(beta2, float64(opt.Step))

	update := func(params []float64, grads []float64, offset int) {
		for i, g := range grads {
			j := offset + i
			opt.M[j] = beta1*opt.M[j] + (1.0-beta1)*g
			opt.V[j] = beta2*opt.V[j] + (1.0-beta2)*g*g
			mHat := opt.M[j] / bc1
			vHat := opt.V[j] / bc2
			params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
		}
	}

	update(m.Weights, gradW, 0)
	update(m.Bias, gradB, len(m.Weights))
}

func kwarg(kwargs map[string]float64, name string, def float64) float64 {
	if v, ok := kwargs[name]; ok {
		return v
	}
	return def
}
