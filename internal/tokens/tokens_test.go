package tokens_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/streamchat/external"
	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/tokens"
)

// fakeCompleter replies with scripted contents in order.
type fakeCompleter struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []assembler.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req assembler.Request) (*external.CallChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.replies) {
		return &external.CallChatResult{Content: ""}, nil
	}
	return &external.CallChatResult{Content: f.replies[i]}, nil
}

// slowCompleter answers after delay unless the context ends first.
type slowCompleter struct {
	delay time.Duration
}

func (s slowCompleter) Complete(ctx context.Context, _ assembler.Request) (*external.CallChatResult, error) {
	select {
	case <-time.After(s.delay):
		return &external.CallChatResult{Content: "3"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// LOCAL
// =============================================================================

func TestTiktoken_Count(t *testing.T) {
	tk := tokens.NewTiktoken("")
	n, err := tk.Count("hello world")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	assert.Equal(t, 2, n)

	again, err := tk.Count("hello world")
	require.NoError(t, err)
	assert.Equal(t, n, again, "counting is deterministic")
}

func TestTiktoken_ForModel(t *testing.T) {
	tk := tokens.NewTiktokenForModel("gpt-4")
	n, err := tk.Count("")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	assert.Equal(t, 0, n)
}

// =============================================================================
// REMOTE
// =============================================================================

func TestParseCount(t *testing.T) {
	tests := []struct {
		reply string
		want  int
		ok    bool
	}{
		{"42", 42, true},
		{"The text has 17 tokens.", 17, true},
		{"about 1,204 tokens", 1204, true},
		{"I cannot count that", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		n, ok := tokens.ParseCount(tt.reply)
		assert.Equal(t, tt.ok, ok, tt.reply)
		assert.Equal(t, tt.want, n, tt.reply)
	}
}

func TestRemoteEstimator_FirstVariant(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"12"}}
	est := tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{Variant: tokens.VariantShuffle, Model: "m1"})

	n, err := est.Estimate(context.Background(), "one two three four")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.Len(t, fc.requests, 1)
	assert.Equal(t, "m1", fc.requests[0].Model)
}

func TestRemoteEstimator_FallsBackToOtherVariant(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"no idea", "7"}}
	est := tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{
		Variant:             tokens.VariantShuffle,
		Model:               "m1",
		FallbackModel:       "m2",
		FallbackTemperature: 0.3,
	})

	n, err := est.Estimate(context.Background(), "b a c")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.Len(t, fc.requests, 2)
	assert.Equal(t, "m2", fc.requests[1].Model)
	assert.Equal(t, 0.3, fc.requests[1].Temperature)
	assert.True(t, strings.HasSuffix(fc.requests[1].Messages[0].Content, "a b c"), "sorted variant sorts the words")
}

func TestRemoteEstimator_NoEstimate(t *testing.T) {
	fc := &fakeCompleter{errs: []error{errors.New("boom"), nil}, replies: []string{"", "nothing"}}
	est := tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{})

	_, err := est.Estimate(context.Background(), "some text")
	assert.ErrorIs(t, err, tokens.ErrNoEstimate)
}

func TestRemoteEstimator_EmptyTextSkipsRequest(t *testing.T) {
	fc := &fakeCompleter{}
	est := tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{})

	n, err := est.Estimate(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, fc.requests)
}

// =============================================================================
// ACCOUNTANT
// =============================================================================

func TestAccountant_LocalJoinsWithNewline(t *testing.T) {
	var seen string
	acc := &tokens.Accountant{Local: tokens.CounterFunc(func(text string) (int, error) {
		seen = text
		return len(text), nil
	})}

	n := acc.Prompt(context.Background(), []assembler.WireMessage{{Content: "ab"}, {Content: "cd"}})
	require.NotNil(t, n)
	assert.Equal(t, "ab\ncd", seen)
	assert.Equal(t, 5, *n)
}

func TestAccountant_LocalPreferredOverRemote(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"99"}}
	acc := &tokens.Accountant{
		Local:  tokens.CounterFunc(func(text string) (int, error) { return 3, nil }),
		Remote: tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{}),
	}

	n := acc.Completion(context.Background(), "abc")
	require.NotNil(t, n)
	assert.Equal(t, 3, *n)
	assert.Empty(t, fc.requests)
}

func TestAccountant_RemoteWhenNoLocal(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"9"}}
	acc := &tokens.Accountant{Remote: tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{})}

	n := acc.Completion(context.Background(), "abc def")
	require.NotNil(t, n)
	assert.Equal(t, 9, *n)
}

func TestAccountant_FailuresAreAbsent(t *testing.T) {
	acc := &tokens.Accountant{Local: tokens.CounterFunc(func(string) (int, error) { return 0, errors.New("broken") })}
	assert.Nil(t, acc.Completion(context.Background(), "x"))

	var none *tokens.Accountant
	assert.Nil(t, none.Completion(context.Background(), "x"))
	assert.False(t, none.Enabled())
}

func TestAccountant_RemoteWhenLocalFails(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"7"}}
	acc := &tokens.Accountant{
		Local:  tokens.CounterFunc(func(string) (int, error) { return 0, errors.New("no encoding") }),
		Remote: tokens.NewRemoteEstimator(fc, tokens.RemoteConfig{}),
	}

	n := acc.Completion(context.Background(), "abc")
	require.NotNil(t, n)
	assert.Equal(t, 7, *n)
	assert.Len(t, fc.requests, 1)
}

func TestAccountant_RemoteDeadline(t *testing.T) {
	acc := &tokens.Accountant{
		Remote:  tokens.NewRemoteEstimator(slowCompleter{delay: 2 * time.Second}, tokens.RemoteConfig{}),
		Timeout: 50 * time.Millisecond,
	}

	start := time.Now()
	n := acc.Completion(context.Background(), "one two three")
	assert.Nil(t, n, "an estimate past the deadline is absent")
	assert.Less(t, time.Since(start), time.Second)
}

func TestAccountant_RemoteWithinDeadline(t *testing.T) {
	acc := &tokens.Accountant{
		Remote:  tokens.NewRemoteEstimator(slowCompleter{delay: 10 * time.Millisecond}, tokens.RemoteConfig{}),
		Timeout: time.Second,
	}

	n := acc.Completion(context.Background(), "one two three")
	require.NotNil(t, n)
	assert.Equal(t, 3, *n)
}
