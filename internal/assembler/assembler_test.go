package assembler_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/conversation"
)

func ptr[T any](v T) *T { return &v }

func incremental() conversation.ModelConfig {
	return conversation.ModelConfig{
		Model:             "gpt-3.5-turbo",
		Temperature:       ptr(1.0),
		SummarizeLevel:    conversation.SummarizeIncremental,
		CompressThreshold: 100,
	}
}

func messages() []conversation.Message {
	tokens := 5
	return []conversation.Message{
		{ID: 1, Role: conversation.RoleUser, Content: "original one"},
		{ID: 2, Role: conversation.RoleAssistant, Content: "original two", Summary: "short two", UseSummary: true, SummaryTokens: &tokens},
		{ID: 3, Role: conversation.RoleUser, Content: "original three", Summary: "short three", UseSummary: false},
		{ID: 4, Role: conversation.RoleUser, Content: "hidden", Hidden: true},
	}
}

// =============================================================================
// SUBSTITUTION
// =============================================================================

func TestBuild_FlaggedSubstitution(t *testing.T) {
	a := assembler.New(assembler.Config{})
	req := a.Build(messages(), incremental(), assembler.Options{})

	require.Len(t, req.Messages, 3)
	assert.Equal(t, "original one", req.Messages[0].Content)
	assert.Equal(t, assembler.SummaryMarker+"short two", req.Messages[1].Content)
	// Summary exists but flag is off: verbatim content.
	assert.Equal(t, "original three", req.Messages[2].Content)
	assert.Equal(t, 1, req.Substituted)
}

func TestBuild_AlwaysPolicy(t *testing.T) {
	a := assembler.New(assembler.Config{Policy: assembler.SubstituteAlways})
	req := a.Build(messages(), incremental(), assembler.Options{})

	require.Len(t, req.Messages, 3)
	assert.Equal(t, assembler.SummaryMarker+"short three", req.Messages[2].Content)
	assert.Equal(t, 2, req.Substituted)
}

func TestBuild_LevelNoneNeverSubstitutes(t *testing.T) {
	cfg := incremental()
	cfg.SummarizeLevel = conversation.SummarizeNone

	a := assembler.New(assembler.Config{Policy: assembler.SubstituteAlways})
	req := a.Build(messages(), cfg, assembler.Options{})

	for i, m := range req.Messages {
		assert.NotContains(t, m.Content, assembler.SummaryMarker, "message %d", i)
	}
}

func TestShouldSubstitute_FlagWithoutSummary(t *testing.T) {
	m := conversation.Message{Content: "x", UseSummary: true}
	assert.False(t, assembler.ShouldSubstitute(&m, conversation.SummarizeIncremental, assembler.SubstituteFlagged))
	assert.False(t, assembler.ShouldSubstitute(&m, conversation.SummarizeIncremental, assembler.SubstituteAlways))
}

func TestBuild_VerbatimProperty(t *testing.T) {
	a := assembler.New(assembler.Config{})
	msgs := make([]conversation.Message, 0, 20)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, conversation.Message{
			ID:      int64(i),
			Role:    conversation.RoleUser,
			Content: fmt.Sprintf("content %d with ünïcode %d", i, i*i),
			Summary: fmt.Sprintf("summary %d", i),
		})
	}

	req := a.Build(msgs, incremental(), assembler.Options{})
	require.Len(t, req.Messages, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i].Content, req.Messages[i].Content)
	}
}

// =============================================================================
// PREAMBLE
// =============================================================================

func TestBuild_Preamble(t *testing.T) {
	a := assembler.New(assembler.Config{Persona: "You are helpful.", MarkerPreamble: true})

	req := a.Build(messages(), incremental(), assembler.Options{})
	require.Len(t, req.Messages, 5)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "You are helpful.", req.Messages[0].Content)
	assert.Equal(t, assembler.MarkerPreamble, req.Messages[1].Content)

	// No substitution, no marker explanation.
	plain := a.Build(messages()[:1], incremental(), assembler.Options{})
	require.Len(t, plain.Messages, 2)
	assert.Equal(t, "You are helpful.", plain.Messages[0].Content)
}

// =============================================================================
// OVERRIDES
// =============================================================================

func TestBuild_Overrides(t *testing.T) {
	a := assembler.New(assembler.Config{})

	req := a.Build(messages(), incremental(), assembler.Options{})
	assert.False(t, req.Stream)
	assert.Equal(t, "gpt-3.5-turbo", req.Model)
	assert.Equal(t, 1.0, req.Temperature)

	req = a.Build(messages(), incremental(), assembler.Options{
		Stream: ptr(true),
		Overrides: conversation.Overrides{
			Model:           ptr("gpt-4"),
			PresencePenalty: ptr(0.6),
		},
	})
	assert.True(t, req.Stream)
	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, 1.0, req.Temperature)
	assert.Equal(t, 0.6, req.PresencePenalty)
}

func TestRequest_Body(t *testing.T) {
	a := assembler.New(assembler.Config{})
	req := a.Build(messages()[:1], incremental(), assembler.Options{Stream: ptr(true)})

	body, err := req.Body(map[string]any{"top_p": 0.9, "stream": false, "user": "u-1"})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(body)
	assert.Equal(t, "original one", parsed.Get("messages.0.content").String())
	assert.True(t, parsed.Get("stream").Bool(), "reserved field must not be overwritten")
	assert.Equal(t, 0.9, parsed.Get("top_p").Float())
	assert.Equal(t, "u-1", parsed.Get("user").String())
	assert.Equal(t, "gpt-3.5-turbo", parsed.Get("model").String())
	assert.True(t, parsed.Get("presence_penalty").Exists())
}

// =============================================================================
// CONTEXT SELECTION
// =============================================================================

func TestSelectContext(t *testing.T) {
	conv := conversation.Conversation{
		Context:  []conversation.Message{{ID: 100, Role: conversation.RoleSystem, Content: "ctx"}},
		Messages: messages(),
	}

	all := assembler.SelectContext(&conv, 0)
	require.Len(t, all, 4)
	assert.Equal(t, "ctx", all[0].Content)

	recent := assembler.SelectContext(&conv, 2)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(2), recent[1].ID)
	assert.Equal(t, int64(3), recent[2].ID)
}
