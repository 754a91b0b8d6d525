package pianoroll

import (
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	writeResolution = 960 // ticks per quarter note
	writeTempoBPM   = 120 // quarter = 0.5s, so 24 steps per quarter
	noteVelocity    = 100
)

// ticksPerStep converts between SMF ticks and roll steps for a given file
// resolution and tempo. At 960 ticks and 120 BPM this is exactly 40.
func ticksPerStep(resolution uint16, bpm float64) float64 {
	return float64(resolution) * bpm / (60.0 * StepsPerSecond)
}

// WriteSMF saves the roll as a single-track Standard MIDI File on the
// 48-steps-per-second grid.
func (r *Roll) WriteSMF(path string) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(writeResolution)

	tps := ticksPerStep(writeResolution, writeTempoBPM)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(writeTempoBPM))

	lastTick := uint32(0)
	add := func(step int, msg midi.Message) {
		tick := uint32(float64(step) * tps)
		tr.Add(tick-lastTick, msg)
		lastTick = tick
	}

	prev := make([]bool, NumKeys)
	for step := 0; step < len(r.frames); step++ {
		for key := 0; key < NumKeys; key++ {
			on := r.frames[step][key]
			if on == prev[key] {
				continue
			}
			if on {
				add(step, midi.NoteOn(0, uint8(key), noteVelocity))
			} else {
				add(step, midi.NoteOff(0, uint8(key)))
			}
			prev[key] = on
		}
	}

	// Close out any keys still sounding at the end.
	for key := 0; key < NumKeys; key++ {
		if prev[key] {
			add(len(r.frames), midi.NoteOff(0, uint8(key)))
		}
	}

	tr.Close(0)
	s.Add(tr)

	if err := s.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write midi file: %w", err)
	}
	return nil
}

type noteEvent struct {
	step int
	key  int
	on   bool
}

// ReadSMF loads a Standard MIDI File onto the 48-steps-per-second grid.
// Events are quantized to the nearest step; note durations shorter than one
// step round up to a single step.
func ReadSMF(path string) (*Roll, error) {
	s, err := smf.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read midi file: %w", err)
	}

	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("unsupported midi time format %v", s.TimeFormat)
	}

	var events []noteEvent

	for _, tr := range s.Tracks {
		absTicks := uint32(0)

		// Steps elapse at a tempo-dependent rate, so elapsed time is
		// integrated segment by segment from the last tempo change.
		bpm := float64(writeTempoBPM)
		tempoTick := uint32(0)
		tempoStep := 0.0

		for _, ev := range tr {
			absTicks += ev.Delta

			var tempo float64
			if ev.Message.GetMetaTempo(&tempo) {
				tempoStep += float64(absTicks-tempoTick) / ticksPerStep(ticks.Resolution(), bpm)
				tempoTick = absTicks
				bpm = tempo
				continue
			}

			step := int(tempoStep + float64(absTicks-tempoTick)/ticksPerStep(ticks.Resolution(), bpm))

			var ch, key, vel uint8
			if ev.Message.GetNoteStart(&ch, &key, &vel) {
				events = append(events, noteEvent{step: step, key: int(key), on: true})
			} else if ev.Message.GetNoteEnd(&ch, &key) {
				events = append(events, noteEvent{step: step, key: int(key), on: false})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].step < events[j].step })

	totalSteps := 0
	for _, ev := range events {
		if ev.step > totalSteps {
			totalSteps = ev.step
		}
	}

	roll := New(totalSteps)
	onAt := make([]int, NumKeys) // step each key turned on, -1 when off
	for k := range onAt {
		onAt[k] = -1
	}

	fill := func(key, from, to int) {
		if to <= from {
			to = from + 1 // zero-length notes still sound for one step
		}
		for step := from; step < to && step < totalSteps; step++ {
			roll.frames[step][key] = true
		}
	}

	for _, ev := range events {
		if ev.on {
			if onAt[ev.key] < 0 {
				onAt[ev.key] = ev.step
			}
			continue
		}
		if onAt[ev.key] >= 0 {
			fill(ev.key, onAt[ev.key], ev.step)
			onAt[ev.key] = -1
		}
	}

	// Keys never released sound through to the end.
	for key, from := range onAt {
		if from >= 0 {
			fill(key, from, totalSteps)
		}
	}

	return roll, nil
}
