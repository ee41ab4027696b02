package tokens

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compresr/streamchat/external"
	"github.com/compresr/streamchat/internal/assembler"
)

// ErrNoEstimate is returned when no variant produced a parseable count.
var ErrNoEstimate = errors.New("remote token estimate unavailable")

// Variant selects the prompt framing of a remote estimate.
type Variant string

const (
	// VariantShuffle shuffles word order so the model cannot echo memorized text.
	VariantShuffle Variant = "shuffle"
	// VariantSorted sorts the words and frames the request as a sortedness check.
	VariantSorted Variant = "sorted"
)

// Completer sends a non-streaming chat request.
type Completer interface {
	Complete(ctx context.Context, req assembler.Request) (*external.CallChatResult, error)
}

// RemoteConfig configures the remote estimator.
type RemoteConfig struct {
	Variant             Variant `yaml:"variant"`
	Model               string  `yaml:"model"`
	Temperature         float64 `yaml:"temperature"`
	FallbackModel       string  `yaml:"fallback_model"`
	FallbackTemperature float64 `yaml:"fallback_temperature"`
	Seed                int64   `yaml:"seed"`
}

// DefaultRemoteConfig returns the built-in estimator settings.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Variant:             VariantShuffle,
		Model:               "gpt-3.5-turbo",
		Temperature:         0,
		FallbackModel:       "gpt-4",
		FallbackTemperature: 0.2,
		Seed:                1,
	}
}

// RemoteEstimator asks the remote model to count tokens.
// Results carry no accuracy guarantee.
type RemoteEstimator struct {
	completer Completer
	config    RemoteConfig
}

// NewRemoteEstimator creates an estimator. Zero fields take defaults.
func NewRemoteEstimator(completer Completer, cfg RemoteConfig) *RemoteEstimator {
	def := DefaultRemoteConfig()
	if cfg.Variant == "" {
		cfg.Variant = def.Variant
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = def.FallbackModel
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return &RemoteEstimator{completer: completer, config: cfg}
}

// Estimate returns the model's count for text. The first attempt uses the
// configured variant; the second uses the other variant with the fallback model.
func (e *RemoteEstimator) Estimate(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	attempts := []struct {
		variant     Variant
		model       string
		temperature float64
	}{
		{e.config.Variant, e.config.Model, e.config.Temperature},
		{otherVariant(e.config.Variant), e.config.FallbackModel, e.config.FallbackTemperature},
	}

	var lastErr error
	for _, a := range attempts {
		req := assembler.Request{
			Model:       a.model,
			Temperature: a.temperature,
			Messages:    []assembler.WireMessage{{Role: "user", Content: e.prompt(a.variant, text)}},
		}
		result, err := e.completer.Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if n, ok := ParseCount(result.Content); ok {
			return n, nil
		}
		lastErr = fmt.Errorf("unparseable reply %q", result.Content)
	}
	return 0, fmt.Errorf("%w: %v", ErrNoEstimate, lastErr)
}

func (e *RemoteEstimator) prompt(v Variant, text string) string {
	words := strings.Fields(text)
	switch v {
	case VariantSorted:
		sort.Strings(words)
		return "Is the following list of words sorted alphabetically? Do not answer that. " +
			"Instead reply with only one integer: the number of tokens the list contains.\n\n" +
			strings.Join(words, " ")
	default:
		rng := rand.New(rand.NewSource(e.config.Seed))
		rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
		return "Count the tokens in the following text as your tokenizer sees it. " +
			"Reply with only one integer.\n\n" + strings.Join(words, " ")
	}
}

func otherVariant(v Variant) Variant {
	if v == VariantSorted {
		return VariantShuffle
	}
	return VariantSorted
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseCount extracts the first integer in reply.
func ParseCount(reply string) (int, bool) {
	m := firstInt.FindString(strings.ReplaceAll(reply, ",", ""))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
