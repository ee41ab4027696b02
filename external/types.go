// Package external talks to the remote chat-completion endpoint for requests
// that are not streamed.
//
// DESIGN: The request side reuses assembler.Request so that summary and
// estimation calls go through the same marshalling as the primary path.
// Only the response shape lives here.
package external

// ChatResponse is the OpenAI-compatible non-streaming response.
type ChatResponse struct {
	ID      string       `json:"id,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is a single completion choice.
type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChatMessage is the reply message of a choice.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatUsage reports token consumption.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
