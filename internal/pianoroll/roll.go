package pianoroll

import (
	"fmt"
	"math"
)

// NumKeys is the full MIDI key range every roll spans.
const NumKeys = 128

// StepsPerSecond is the time resolution of a roll. One row represents
// 1/48th of a second of the performance.
const StepsPerSecond = 48

// Roll is a two-dimensional boolean grid of key states over time. Rows are
// time steps, columns are MIDI key indices. A true cell means the key is
// sounding during that step.
type Roll struct {
	frames [][]bool
}

func New(steps int) *Roll {
	frames := make([][]bool, steps)
	for i := range frames {
		frames[i] = make([]bool, NumKeys)
	}
	return &Roll{frames: frames}
}

// FromFrames builds a roll from existing rows. Every row must span the full
// key range.
func FromFrames(frames [][]bool) (*Roll, error) {
	r := New(len(frames))
	for i, f := range frames {
		if len(f) != NumKeys {
			return nil, fmt.Errorf("frame %d has %d keys, want %d", i, len(f), NumKeys)
		}
		copy(r.frames[i], f)
	}
	return r, nil
}

func (r *Roll) Steps() int {
	return len(r.frames)
}

func (r *Roll) At(step, key int) bool {
	return r.frames[step][key]
}

func (r *Roll) Set(step, key int, on bool) {
	r.frames[step][key] = on
}

func (r *Roll) Copy() *Roll {
	out := New(len(r.frames))
	for i, f := range r.frames {
		copy(out.frames[i], f)
	}
	return out
}

// PadLeading returns a copy with the given number of silent steps prepended.
func (r *Roll) PadLeading(steps int) *Roll {
	out := New(steps + len(r.frames))
	for i, f := range r.frames {
		copy(out.frames[steps+i], f)
	}
	return out
}

// Append returns a copy of r with the frames of other concatenated after it.
func (r *Roll) Append(other *Roll) *Roll {
	out := New(len(r.frames) + len(other.frames))
	for i, f := range r.frames {
		copy(out.frames[i], f)
	}
	for i, f := range other.frames {
		copy(out.frames[len(r.frames)+i], f)
	}
	return out
}

// Stretched resamples the roll in time by the given fraction using
// nearest-neighbour row selection. A fraction of 0.5 halves the number of
// steps; 2.0 doubles it. The result of stretching by f then by 1/f is only
// an approximation of the original: rows dropped on the way down are
// replicated, not recovered, on the way back up.
func (r *Roll) Stretched(fraction float64) *Roll {
	if len(r.frames) == 0 {
		return New(0)
	}

	steps := int(math.Round(float64(len(r.frames)) * fraction))
	if steps < 1 {
		steps = 1
	}

	out := New(steps)
	for i := 0; i < steps; i++ {
		src := int(float64(i) / fraction)
		if src >= len(r.frames) {
			src = len(r.frames) - 1
		}
		copy(out.frames[i], r.frames[src])
	}
	return out
}

// ActiveCount returns the number of true cells, useful for sanity checks and
// summaries.
func (r *Roll) ActiveCount() int {
	n := 0
	for _, f := range r.frames {
		for _, on := range f {
			if on {
				n++
			}
		}
	}
	return n
}
