package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

// SampleSource yields training batches of (input window, predicted window)
// pairs cut from a corpus. Window starts are aligned to time step boundaries
// and visited in a seeded shuffled order, so two sources built with the same
// seed produce identical batch sequences. The cursor over that order can be
// saved and restored, which is how an interrupted run continues the data
// stream instead of restarting it.
type SampleSource struct {
	corpus     *Corpus
	inputLen   int
	predictLen int
	batchSize  int
	seed       int64

	order []int // shuffled window start offsets, in notes
	next  int   // index into order of the next sample
}

func NewSampleSource(c *Corpus, inputLen, predictLen, batchSize int, seed int64) (*SampleSource, error) {
	if inputLen%c.NumKeys != 0 || predictLen%c.NumKeys != 0 {
		return nil, fmt.Errorf("window lengths %d/%d are not multiples of %d keys", inputLen, predictLen, c.NumKeys)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	windowLen := inputLen + predictLen
	if c.LengthInNotes() < windowLen {
		return nil, fmt.Errorf("corpus of %d notes is shorter than one %d note sample", c.LengthInNotes(), windowLen)
	}

	numSamples := (c.LengthInNotes()-windowLen)/c.NumKeys + 1

	s := &SampleSource{
		corpus:     c,
		inputLen:   inputLen,
		predictLen: predictLen,
		batchSize:  batchSize,
		seed:       seed,
		order:      make([]int, numSamples),
	}
	for i := range s.order {
		s.order[i] = i * c.NumKeys
	}
	rand.New(rand.NewSource(seed)).Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})

	return s, nil
}

// TotalBatches is the number of batches in one full pass over the corpus.
func (s *SampleSource) TotalBatches() int {
	return len(s.order) / s.batchSize
}

// NextBatch returns the next batchSize samples, wrapping around to the start
// of the shuffled order when the pass is exhausted.
func (s *SampleSource) NextBatch() (inputs, targets [][]bool) {
	notes := s.corpus.Notes()
	inputs = make([][]bool, s.batchSize)
	targets = make([][]bool, s.batchSize)

	for b := 0; b < s.batchSize; b++ {
		start := s.order[s.next%len(s.order)]
		s.next++

		in := make([]bool, s.inputLen)
		copy(in, notes[start:start+s.inputLen])
		out := make([]bool, s.predictLen)
		copy(out, notes[start+s.inputLen:start+s.inputLen+s.predictLen])

		inputs[b] = in
		targets[b] = out
	}
	return inputs, targets
}

// cursorFile is the persisted cursor record.
type cursorFile struct {
	Seed        int64 `json:"seed"`
	SampleIndex int   `json:"sample_index"`
}

// SaveState writes the source's cursor to path.
func (s *SampleSource) SaveState(path string) error {
	data, err := json.MarshalIndent(cursorFile{Seed: s.seed, SampleIndex: s.next}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sample cursor: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sample cursor: %w", err)
	}
	return nil
}

// LoadState restores a previously saved cursor. The saved seed must match
// the source's own, otherwise the restored index would point into a
// different shuffle.
func (s *SampleSource) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sample cursor: %w", err)
	}

	var f cursorFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse sample cursor: %w", err)
	}
	if f.Seed != s.seed {
		return fmt.Errorf("sample cursor seed %d does not match source seed %d", f.Seed, s.seed)
	}

	s.next = f.SampleIndex
	return nil
}

func (s *SampleSource) Summary() string {
	return fmt.Sprintf("%d samples of %d+%d notes, batch size %d, %d batches per pass, cursor at %d",
		len(s.order), s.inputLen, s.predictLen, s.batchSize, s.TotalBatches(), s.next)
}
