package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/compresr/streamchat/internal/chat"
	"github.com/compresr/streamchat/internal/compression"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/stream"
	"github.com/compresr/streamchat/internal/tui"
)

const replHelp = `Commands:
  /help                   Show this help
  /new [topic]            Start a new conversation
  /history                List the messages of the conversation
  /summarize <id> [force] Summarize one message now
  /model [name]           Show or set the model of the conversation
  /usage                  Show this month's spending
  /quit                   Exit

Press Ctrl+C while a reply streams to stop it.`

// repl is the interactive chat loop. It doubles as the service's notifier.
type repl struct {
	console *tui.Console
	app     *app

	conv int

	mu   sync.Mutex
	turn *chat.Turn

	authRequested atomic.Bool
}

func newREPL(console *tui.Console) *repl {
	return &repl{console: console}
}

// attach binds the REPL to the components it drives and opens the first
// conversation.
func (r *repl) attach(a *app) {
	r.app = a
	r.conv = a.source.Create("", conversation.ModelConfig{})
}

// ShowError implements conversation.Notifier.
func (r *repl) ShowError(_ int, messageID int64, err error) {
	r.console.Printf("\n")
	r.console.Error(fmt.Sprintf("message %d: %v", messageID, err))
}

// PromptCredentials implements conversation.Notifier.
func (r *repl) PromptCredentials(int) {
	r.authRequested.Store(true)
}

var _ conversation.Notifier = (*repl)(nil)

// run reads input until /quit or end of input.
func (r *repl) run(ctx context.Context) error {
	for {
		line, err := r.console.Prompt("you> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			name, args := parseCommand(line)
			if quit := r.command(ctx, name, args); quit {
				return nil
			}
			continue
		}

		if err := r.send(ctx, line, true); err != nil {
			r.console.Error(err.Error())
		}
	}
}

// interrupt stops the streaming reply. It returns false when nothing was
// streaming.
func (r *repl) interrupt() bool {
	r.mu.Lock()
	turn := r.turn
	r.mu.Unlock()
	if turn == nil {
		return false
	}
	r.app.service.Stop(turn.Conversation, turn.AssistantID)
	return true
}

// send runs one turn and waits for it. After a 401 the user is asked for a
// credential and, when allowed, the message is sent once more.
func (r *repl) send(ctx context.Context, content string, retry bool) error {
	r.authRequested.Store(false)

	r.console.Printf("bot> ")
	turn, err := r.app.service.Send(ctx, r.conv, content, chat.SendOptions{OnEvent: r.onEvent})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.turn = turn
	r.mu.Unlock()

	waitErr := turn.Wait(ctx)

	r.mu.Lock()
	r.turn = nil
	r.mu.Unlock()

	if turn.Stopped() {
		r.console.Printf("\n")
		r.console.Dim("(stopped)")
		return nil
	}
	if waitErr != nil && !errors.Is(waitErr, stream.ErrUnauthorized) {
		// Already shown by the notifier.
		return nil
	}
	if !r.authRequested.Load() {
		return nil
	}

	r.console.Printf("\n")
	r.console.Warn("the endpoint rejected the request credentials")
	if !r.askCredentials() || !retry {
		return nil
	}
	r.hide(turn)
	return r.send(ctx, content, false)
}

func (r *repl) onEvent(ev stream.Event) {
	if ev.Delta != "" {
		_, _ = io.WriteString(r.console, ev.Delta)
	}
	if ev.Done {
		r.console.Printf("\n")
		if ev.PromptTokens != nil || ev.CompletionTokens != nil {
			r.console.Dim(fmt.Sprintf("(%s prompt, %s completion tokens)",
				formatCount(ev.PromptTokens), formatCount(ev.CompletionTokens)))
		}
	}
}

// askCredentials reads a new credential. Keys starting with "sk-" are API
// keys; anything else is taken as an access code.
func (r *repl) askCredentials() bool {
	static := r.app.static
	if static == nil {
		r.console.Info("requests are signed with AWS credentials; check your AWS profile")
		return false
	}
	secret, err := r.console.PromptPassword("API key or access code (empty to skip): ")
	if err != nil || secret == "" {
		return false
	}
	if strings.HasPrefix(secret, "sk-") {
		static.SetAPIKey(secret)
	} else {
		static.SetAccessCode(secret)
	}
	r.console.Success("credentials updated")
	return true
}

// hide removes a rejected turn from future context.
func (r *repl) hide(turn *chat.Turn) {
	_ = r.app.source.Update(turn.Conversation, func(c *conversation.Conversation) {
		for _, id := range []int64{turn.UserID, turn.AssistantID} {
			if i := c.Find(id); i >= 0 {
				c.Messages[i].Hidden = true
			}
		}
	})
}

// =============================================================================
// COMMANDS
// =============================================================================

// parseCommand splits "/name arg..." into a lowercased name and its arguments.
func parseCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, name string, args []string) bool {
	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "h", "?":
		r.console.Printf("%s\n", replHelp)
	case "new":
		r.conv = r.app.source.Create(strings.Join(args, " "), conversation.ModelConfig{})
		r.console.Success(fmt.Sprintf("started conversation %d", r.conv))
	case "history":
		r.history()
	case "summarize":
		r.summarize(ctx, args)
	case "model":
		r.model(args)
	case "usage":
		r.usage(ctx)
	default:
		r.console.Warn(fmt.Sprintf("unknown command /%s, try /help", name))
	}
	return false
}

func (r *repl) history() {
	c, ok := r.app.source.Get(r.conv)
	if !ok {
		return
	}
	cfg := conversation.Resolve(r.app.cfg.Defaults, c.Config, conversation.Overrides{})
	if len(c.Messages) == 0 {
		r.console.Dim("(no messages)")
		return
	}
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.Hidden {
			continue
		}
		status := compression.StateOf(m, cfg).String()
		if m.Failed {
			status = "failed"
		}
		r.console.Printf("%4d %-9s %-10s %s\n", m.ID, m.Role, status, preview(m.Content, 60))
	}
}

func (r *repl) summarize(ctx context.Context, args []string) {
	if len(args) == 0 {
		r.console.Warn("usage: /summarize <id> [force]")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		r.console.Warn(fmt.Sprintf("invalid message id %q", args[0]))
		return
	}
	force := len(args) > 1 && args[1] == "force"

	resp, err := r.app.service.Summarize(ctx, r.conv, id, force)
	switch {
	case errors.Is(err, compression.ErrBelowThreshold):
		r.console.Info("message is below the compression threshold")
	case errors.Is(err, compression.ErrAlreadySummarized):
		r.console.Info("message is already summarized, use /summarize <id> force")
	case err != nil:
		r.console.Error(fmt.Sprintf("summarize failed: %v", err))
	default:
		source := "generated"
		if resp.Cached {
			source = "cached"
		}
		r.console.Success(fmt.Sprintf("summary %s (%d tokens)", source, resp.Tokens))
		r.console.Dim(resp.Summary)
	}
}

func (r *repl) model(args []string) {
	if len(args) == 0 {
		c, _ := r.app.source.Get(r.conv)
		cfg := conversation.Resolve(r.app.cfg.Defaults, c.Config, conversation.Overrides{})
		r.console.Info("model: " + cfg.Model)
		return
	}
	_ = r.app.source.Update(r.conv, func(c *conversation.Conversation) {
		c.Config.Model = args[0]
	})
	r.console.Success("model set to " + args[0])
}

func (r *repl) usage(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	u, err := r.app.billing.CurrentMonth(ctx)
	if err != nil {
		r.console.Error(fmt.Sprintf("usage unavailable: %v", err))
		return
	}
	r.console.Info(formatUsage(u.Used, u.Subscription))
}

// =============================================================================
// FORMATTING
// =============================================================================

func formatCount(n *int) string {
	if n == nil {
		return "?"
	}
	return strconv.Itoa(*n)
}

func formatUsage(used, limit float64) string {
	if limit > 0 {
		return fmt.Sprintf("used $%.2f of $%.2f this month", used, limit)
	}
	return fmt.Sprintf("used $%.2f this month", used)
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
