// Package dataset holds the aggregated training corpus and the windowed
// batch source that feeds the model.
package dataset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mpataki/clavier/internal/notes"
	"github.com/mpataki/clavier/internal/pianoroll"
)

// Corpus is a set of performances encoded at shared parameters and
// concatenated into one long note stream, with silent padding between pieces
// so that a sample window never straddles the end of one piece and the start
// of the next without a gap.
type Corpus struct {
	MinKey     int
	NumKeys    int
	Resolution float64
	TimeSteps  int
	Pieces     int

	bits []bool
}

// BuildCorpus encodes each roll at the given parameters and joins the
// streams with padSteps of silence between consecutive pieces and before the
// first one.
func BuildCorpus(rolls []*pianoroll.Roll, minKey, numKeys int, resolution float64, padSteps int) (*Corpus, error) {
	if len(rolls) == 0 {
		return nil, fmt.Errorf("no performances to build a corpus from")
	}

	pad := make([]bool, padSteps*numKeys)

	c := &Corpus{
		MinKey:     minKey,
		NumKeys:    numKeys,
		Resolution: resolution,
		Pieces:     len(rolls),
	}

	for i, roll := range rolls {
		buf, err := notes.New(notes.Config{
			Roll:       roll,
			MinKey:     minKey,
			NumKeys:    numKeys,
			Resolution: resolution,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode performance %d: %w", i, err)
		}
		c.bits = append(c.bits, pad...)
		c.bits = append(c.bits, buf.Flat()...)
	}
	c.bits = append(c.bits, pad...)

	c.TimeSteps = len(c.bits) / numKeys
	return c, nil
}

// Notes returns the concatenated stream. The caller must not mutate it.
func (c *Corpus) Notes() []bool {
	return c.bits
}

func (c *Corpus) LengthInNotes() int {
	return len(c.bits)
}

// corpusFile is the JSON envelope. The bit stream is packed eight states per
// byte and base64 encoded to keep corpus files compact.
type corpusFile struct {
	MinKey     int     `json:"min_key"`
	NumKeys    int     `json:"num_keys"`
	Resolution float64 `json:"resolution"`
	TimeSteps  int     `json:"time_steps"`
	Pieces     int     `json:"pieces"`
	NumNotes   int     `json:"num_notes"`
	Data       string  `json:"data"`
}

func (c *Corpus) Save(path string) error {
	packed := make([]byte, (len(c.bits)+7)/8)
	for i, on := range c.bits {
		if on {
			packed[i/8] |= 1 << (i % 8)
		}
	}

	data, err := json.Marshal(corpusFile{
		MinKey:     c.MinKey,
		NumKeys:    c.NumKeys,
		Resolution: c.Resolution,
		TimeSteps:  c.TimeSteps,
		Pieces:     c.Pieces,
		NumNotes:   len(c.bits),
		Data:       base64.StdEncoding.EncodeToString(packed),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal corpus: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write corpus: %w", err)
	}
	return nil
}

func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var f corpusFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}

	packed, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode corpus data: %w", err)
	}
	if f.NumNotes > len(packed)*8 {
		return nil, fmt.Errorf("corpus data truncated: %d notes declared, %d bytes present", f.NumNotes, len(packed))
	}

	bits := make([]bool, f.NumNotes)
	for i := range bits {
		bits[i] = packed[i/8]&(1<<(i%8)) != 0
	}

	return &Corpus{
		MinKey:     f.MinKey,
		NumKeys:    f.NumKeys,
		Resolution: f.Resolution,
		TimeSteps:  f.TimeSteps,
		Pieces:     f.Pieces,
		bits:       bits,
	}, nil
}
