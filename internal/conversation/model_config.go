package conversation

// ModelConfig holds effective request parameters and compression settings.
type ModelConfig struct {
	Model             string         `yaml:"model" json:"model"`
	Temperature       *float64       `yaml:"temperature,omitempty" json:"temperature,omitempty"`           // Nil: inherited
	PresencePenalty   *float64       `yaml:"presence_penalty,omitempty" json:"presence_penalty,omitempty"` // Nil: inherited
	MaxTokens         int            `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	SummarizeLevel    SummarizeLevel `yaml:"summarize_level" json:"summarize_level"`
	CompressThreshold int            `yaml:"compress_threshold" json:"compress_threshold"` // Characters
	HistoryCount      int            `yaml:"history_count" json:"history_count"`           // Recent messages sent, 0 = all
}

// SamplingTemperature returns the temperature, zero when unset.
func (m ModelConfig) SamplingTemperature() float64 {
	if m.Temperature == nil {
		return 0
	}
	return *m.Temperature
}

// SamplingPresencePenalty returns the presence penalty, zero when unset.
func (m ModelConfig) SamplingPresencePenalty() float64 {
	if m.PresencePenalty == nil {
		return 0
	}
	return *m.PresencePenalty
}

// Overrides are optional per-layer settings. Nil fields leave the lower layer untouched.
type Overrides struct {
	Model           *string
	Temperature     *float64
	PresencePenalty *float64
}

// Resolve layers configuration, low to high precedence:
// global defaults < conversation defaults < explicit call-time overrides.
//
// Each conversation-level field wins when set: a non-empty model or level, a
// non-nil temperature or presence penalty (zero included), a positive
// threshold, token limit or history count.
func Resolve(global, conv ModelConfig, call Overrides) ModelConfig {
	out := global
	if conv.Model != "" {
		out.Model = conv.Model
	}
	if conv.Temperature != nil {
		out.Temperature = conv.Temperature
	}
	if conv.PresencePenalty != nil {
		out.PresencePenalty = conv.PresencePenalty
	}
	if conv.MaxTokens > 0 {
		out.MaxTokens = conv.MaxTokens
	}
	if conv.SummarizeLevel != "" {
		out.SummarizeLevel = conv.SummarizeLevel
	}
	if conv.CompressThreshold > 0 {
		out.CompressThreshold = conv.CompressThreshold
	}
	if conv.HistoryCount > 0 {
		out.HistoryCount = conv.HistoryCount
	}
	return call.Apply(out)
}

// Apply overlays the non-nil overrides on cfg.
func (o Overrides) Apply(cfg ModelConfig) ModelConfig {
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = o.Temperature
	}
	if o.PresencePenalty != nil {
		cfg.PresencePenalty = o.PresencePenalty
	}
	return cfg
}
