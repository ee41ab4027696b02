package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format is the wire format of the response body.
type Format string

const (
	// FormatText treats the body as raw UTF-8 text.
	FormatText Format = "text"
	// FormatSSE parses OpenAI-compatible "data:" frames.
	FormatSSE Format = "sse"
)

const readBufferSize = 4096

// chunk is one decoded piece of the response.
type chunk struct {
	text  string
	final bool // stream completion marker seen

	promptTokens     *int
	completionTokens *int
}

// decoder yields chunks until io.EOF.
type decoder interface {
	next() (chunk, error)
}

func newDecoder(format Format, body io.Reader) decoder {
	// Multi-byte sequences split across reads are held back until complete.
	utf8 := transform.NewReader(body, unicode.UTF8.NewDecoder())
	if format == FormatSSE {
		return &sseDecoder{reader: bufio.NewReader(utf8)}
	}
	return &textDecoder{reader: utf8, buf: make([]byte, readBufferSize)}
}

// ===== TEXT =====

type textDecoder struct {
	reader io.Reader
	buf    []byte
}

func (d *textDecoder) next() (chunk, error) {
	for {
		n, err := d.reader.Read(d.buf)
		if n > 0 {
			// A trailing error is reported on the following call.
			return chunk{text: string(d.buf[:n])}, nil
		}
		if err != nil {
			return chunk{}, err
		}
	}
}

// ===== SSE =====

type sseDecoder struct {
	reader *bufio.Reader
}

func (d *sseDecoder) next() (chunk, error) {
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return chunk{}, err
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			if err != nil {
				return chunk{}, err
			}
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return chunk{final: true}, nil
		}
		if !gjson.Valid(data) {
			return chunk{}, fmt.Errorf("invalid SSE frame: %.100s", data)
		}

		frame := gjson.Parse(data)
		if msg := frame.Get("error.message"); msg.Exists() {
			return chunk{}, &Error{Kind: KindStream, Err: errors.New(msg.String())}
		}

		c := chunk{text: frame.Get("choices.0.delta.content").String()}
		if usage := frame.Get("usage"); usage.IsObject() {
			if p := usage.Get("prompt_tokens"); p.Exists() {
				n := int(p.Int())
				c.promptTokens = &n
			}
			if p := usage.Get("completion_tokens"); p.Exists() {
				n := int(p.Int())
				c.completionTokens = &n
			}
		}
		return c, nil
	}
}
