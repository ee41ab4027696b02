// Package tokens estimates prompt and completion token counts.
//
// DESIGN: Two strategies behind one Accountant:
//   - Local (primary):  tiktoken encoding, pure and deterministic
//   - Remote (fallback): ask the model to count, explicitly low confidence
//
// Counts are reported as *int; nil means "absent", never zero-by-default.
// Failures are absorbed and logged at debug.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when neither an encoding nor a known model is given.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) (int, error)

// Count calls f.
func (f CounterFunc) Count(text string) (int, error) { return f(text) }

// Tiktoken counts tokens with a local BPE encoding.
// The encoding is loaded on first use (it may need to download its ranks).
type Tiktoken struct {
	encoding string
	model    string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken creates a counter for a named encoding (e.g. cl100k_base).
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

// NewTiktokenForModel creates a counter using the encoding of model,
// falling back to DefaultEncoding for unknown models.
func NewTiktokenForModel(model string) *Tiktoken {
	return &Tiktoken{encoding: DefaultEncoding, model: model}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		if t.model != "" {
			if enc, err := tiktoken.EncodingForModel(t.model); err == nil {
				t.enc = enc
				return
			}
		}
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count returns the number of tokens in text.
func (t *Tiktoken) Count(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

var _ Counter = (*Tiktoken)(nil)
