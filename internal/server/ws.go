package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/chat"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/monitoring"
	"github.com/compresr/streamchat/internal/stream"
)

const maxFrameSize = 1 << 20

// Frame types sent by the client.
const (
	FrameSend      = "send"
	FrameStop      = "stop"
	FrameStopAll   = "stop_all"
	FrameSummarize = "summarize"
)

// Frame types sent by the server.
const (
	FrameStarted    = "started"
	FrameConnected  = "connected"
	FrameDelta      = "delta"
	FrameDone       = "done"
	FrameError      = "error"
	FrameSummarized = "summarized"
)

// ClientFrame is one command from a remote UI.
type ClientFrame struct {
	Type         string   `json:"type"`
	Conversation int      `json:"conversation"`
	MessageID    int64    `json:"message_id,omitempty"`
	Content      string   `json:"content,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Force        bool     `json:"force,omitempty"`
}

// ServerFrame is one notification to a remote UI.
type ServerFrame struct {
	Type             string `json:"type"`
	Conversation     int    `json:"conversation"`
	MessageID        int64  `json:"message_id,omitempty"`
	UserMessageID    int64  `json:"user_message_id,omitempty"`
	StreamID         string `json:"stream_id,omitempty"`
	Text             string `json:"text,omitempty"`
	Delta            string `json:"delta,omitempty"`
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
	CompletionTokens *int   `json:"completion_tokens,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Error            string `json:"error,omitempty"`
	Kind             string `json:"kind,omitempty"`
	Status           int    `json:"status,omitempty"`
}

// handleStream upgrades to a WebSocket and serves commands until the client
// disconnects. Streams started on the connection end with it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	ctx := r.Context()
	requestID := monitoring.RequestIDFromContext(ctx)
	log.Debug().Str("request_id", requestID).Msg("websocket connected")

	for {
		var frame ClientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Debug().Str("request_id", requestID).Msg("websocket closed")
			} else {
				log.Debug().Err(err).Str("request_id", requestID).Msg("websocket read failed")
			}
			return
		}
		s.dispatch(ctx, conn, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, f ClientFrame) {
	switch f.Type {
	case FrameSend:
		s.send(ctx, conn, f)
	case FrameStop:
		s.service.Stop(f.Conversation, f.MessageID)
	case FrameStopAll:
		s.service.StopAll()
	case FrameSummarize:
		go s.summarize(ctx, conn, f)
	default:
		write(ctx, conn, ServerFrame{Type: FrameError, Conversation: f.Conversation, Error: "unknown frame type: " + f.Type})
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, f ClientFrame) {
	var turn *chat.Turn
	ready := make(chan struct{})

	opts := chat.SendOptions{
		Overrides: conversation.Overrides{Model: f.Model, Temperature: f.Temperature},
		OnEvent: func(ev stream.Event) {
			<-ready
			write(ctx, conn, eventFrame(turn, ev))
		},
	}

	t, err := s.service.Send(ctx, f.Conversation, f.Content, opts)
	if err != nil {
		close(ready)
		write(ctx, conn, ServerFrame{Type: FrameError, Conversation: f.Conversation, Error: err.Error()})
		return
	}
	turn = t
	write(ctx, conn, ServerFrame{
		Type:          FrameStarted,
		Conversation:  t.Conversation,
		MessageID:     t.AssistantID,
		UserMessageID: t.UserID,
		StreamID:      t.StreamID(),
	})
	close(ready)
}

func (s *Server) summarize(ctx context.Context, conn *websocket.Conn, f ClientFrame) {
	resp, err := s.service.Summarize(ctx, f.Conversation, f.MessageID, f.Force)
	if err != nil {
		write(ctx, conn, ServerFrame{Type: FrameError, Conversation: f.Conversation, MessageID: f.MessageID, Error: err.Error()})
		return
	}
	tokens := resp.Tokens
	write(ctx, conn, ServerFrame{
		Type:             FrameSummarized,
		Conversation:     f.Conversation,
		MessageID:        resp.MessageID,
		Summary:          resp.Summary,
		CompletionTokens: &tokens,
	})
}

// eventFrame converts a stream event of turn.
func eventFrame(turn *chat.Turn, ev stream.Event) ServerFrame {
	f := ServerFrame{Conversation: turn.Conversation, MessageID: turn.AssistantID}
	switch {
	case ev.Handle != nil:
		f.Type = FrameConnected
		f.StreamID = turn.StreamID()
	case ev.Err != nil:
		f.Type = FrameError
		f.Error = ev.Err.Error()
		f.Kind = string(ev.Err.Kind)
		f.Status = ev.Err.StatusCode
	case ev.Done:
		f.Type = FrameDone
		f.Text = ev.Text
		f.PromptTokens = ev.PromptTokens
		f.CompletionTokens = ev.CompletionTokens
	default:
		f.Type = FrameDelta
		f.Text = ev.Text
		f.Delta = ev.Delta
	}
	return f
}

// write sends one frame. Failures mean the client is gone; the read loop
// notices and ends the connection.
func write(ctx context.Context, conn *websocket.Conn, f ServerFrame) {
	if err := wsjson.Write(ctx, conn, f); err != nil {
		log.Debug().Err(err).Str("type", f.Type).Msg("websocket write failed")
	}
}

// originPatterns lists the origins allowed to open a WebSocket besides the
// server's own host.
func (s *Server) originPatterns() []string {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	for _, o := range s.config.AllowedOrigins {
		patterns = append(patterns, hostOf(o))
	}
	return patterns
}

func hostOf(origin string) string {
	return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
}
