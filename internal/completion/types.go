package completion

import "fmt"

// Roles accepted in a chat completion.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	// Model is the upstream model id. Empty selects the fast model.
	Model    string
	Messages []Message
	// Schema is a value (usually a zero struct) whose type describes the
	// requested JSON output. Nil requests free text.
	Schema any
	// SearchDomains restricts web retrieval to these domains. Ignored for
	// the deep model.
	SearchDomains []string
}

// CompletionError reports a failed upstream call. Status is the HTTP status
// when one was received, otherwise 0.
type CompletionError struct {
	Model  string
	Status int
	Err    error
}

func (e *CompletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion %s: HTTP %d: %v", e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("completion %s: %v", e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

type jsonSchemaFormat struct {
	Schema any `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type chatRequest struct {
	Model              string          `json:"model"`
	Messages           []Message       `json:"messages"`
	ResponseFormat     *responseFormat `json:"response_format,omitempty"`
	SearchDomainFilter []string        `json:"search_domain_filter,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}
