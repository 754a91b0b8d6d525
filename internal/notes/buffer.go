// Package notes implements the 1D note-stream encoding of a pianoroll.
//
// A Buffer is a flattened stream of key states derived from a roll: the roll
// is optionally downsampled in time, cropped to the keys that actually get
// played, and flattened time-major/key-minor. The stream is what sequence
// models train on.
//
// Example layout:
//
//	timestep 0                   timestep 1
//	 A  A# B  C  C# D  D# E ...   A  A# B  C  C# D  D# E ...
//	[0, 0, 0, 1, 0, 0, 0, 0 ...   1, 0, 0, 1, 0, 0, 0, 0 ...]
package notes

import (
	"fmt"

	"github.com/mpataki/clavier/internal/pianoroll"
)

// ConstructionError reports invalid encoding parameters.
type ConstructionError struct {
	Reason string
}

func (e *ConstructionError) Error() string {
	return "note buffer construction: " + e.Reason
}

// Config selects exactly one initializer for New: a source Roll to encode, or
// a Flat stream that is assumed to already be cropped and downsampled at the
// given parameters.
type Config struct {
	Roll       *pianoroll.Roll
	Flat       []bool
	MinKey     int
	NumKeys    int
	Resolution float64
}

// Buffer is an immutable encoded note stream. MinKey and NumKeys record the
// crop window; Resolution records the time downsampling applied before
// flattening, and drives the inverse stretch on decode.
type Buffer struct {
	minKey     int
	numKeys    int
	resolution float64
	timeSteps  int
	flat       []bool
}

func New(cfg Config) (*Buffer, error) {
	if cfg.Roll != nil && cfg.Flat != nil {
		return nil, &ConstructionError{Reason: "cannot use both a roll and a flat initializer, choose one"}
	}
	if cfg.Roll == nil && cfg.Flat == nil {
		return nil, &ConstructionError{Reason: "either a roll or a flat initializer is required"}
	}
	if cfg.MinKey+cfg.NumKeys > pianoroll.NumKeys {
		return nil, &ConstructionError{
			Reason: fmt.Sprintf("min key %d + num keys %d exceeds the %d key range", cfg.MinKey, cfg.NumKeys, pianoroll.NumKeys),
		}
	}
	if cfg.Resolution > 1.0 || cfg.Resolution <= 0 {
		return nil, &ConstructionError{Reason: fmt.Sprintf("resolution %v is outside (0, 1.0]", cfg.Resolution)}
	}

	b := &Buffer{
		minKey:     cfg.MinKey,
		numKeys:    cfg.NumKeys,
		resolution: cfg.Resolution,
	}

	if cfg.Flat != nil {
		if len(cfg.Flat)%cfg.NumKeys != 0 {
			return nil, &ConstructionError{Reason: "flat stream contains a timestep with a partial key state"}
		}
		b.timeSteps = len(cfg.Flat) / cfg.NumKeys
		b.flat = make([]bool, len(cfg.Flat))
		copy(b.flat, cfg.Flat)
		return b, nil
	}

	roll := cfg.Roll
	if cfg.Resolution != 1.0 {
		roll = roll.Stretched(cfg.Resolution)
	}

	b.timeSteps = roll.Steps()
	b.flat = make([]bool, b.timeSteps*cfg.NumKeys)
	for step := 0; step < b.timeSteps; step++ {
		for k := 0; k < cfg.NumKeys; k++ {
			b.flat[step*cfg.NumKeys+k] = roll.At(step, cfg.MinKey+k)
		}
	}

	return b, nil
}

// Decode reconstructs a full-range roll from the stream as faithfully as the
// encoding allows. Keys outside the crop window decode to silence, and when
// the resolution is below 1.0 the inverse time stretch only approximates the
// original timing. Both losses are inherent to the encoding, not recoverable.
func (b *Buffer) Decode() *pianoroll.Roll {
	roll := pianoroll.New(b.timeSteps)
	for step := 0; step < b.timeSteps; step++ {
		for k := 0; k < b.numKeys; k++ {
			if b.flat[step*b.numKeys+k] {
				roll.Set(step, b.minKey+k, true)
			}
		}
	}

	if b.resolution == 1.0 {
		return roll
	}
	return roll.Stretched(1.0 / b.resolution)
}

// LengthInNotes returns the length of the flattened stream.
func (b *Buffer) LengthInNotes() int {
	return len(b.flat)
}

// LengthInTimesteps returns the length of the stream in time steps.
func (b *Buffer) LengthInTimesteps() int {
	return b.LengthInNotes() / b.numKeys
}

func (b *Buffer) TimeSteps() int      { return b.timeSteps }
func (b *Buffer) MinKey() int         { return b.minKey }
func (b *Buffer) NumKeys() int        { return b.numKeys }
func (b *Buffer) Resolution() float64 { return b.resolution }

// At reports the key state at the given step and cropped key offset.
func (b *Buffer) At(step, key int) bool {
	return b.flat[step*b.numKeys+key]
}

// Flat returns a copy of the flattened stream.
func (b *Buffer) Flat() []bool {
	out := make([]bool, len(b.flat))
	copy(out, b.flat)
	return out
}
