package core

import "encoding/json"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Response is the per-invocation result record. Answer holds the flow's
// final textual result; Metadata is an extensible field bag that tool ops
// mirror their outputs into.
type Response struct {
	Answer   string         `json:"answer"`
	Messages []Message      `json:"messages"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewResponse() *Response {
	return &Response{
		Messages: []Message{},
		Metadata: map[string]any{},
	}
}

// MarshalFlat renders the response as a single JSON object with the
// metadata fields hoisted to the top level, the shape the HTTP surface
// returns: {"answer": ..., "messages": [...], <metadata...>}.
func (r *Response) MarshalFlat() ([]byte, error) {
	flat := make(map[string]any, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		flat[k] = v
	}
	flat["answer"] = r.Answer
	msgs := r.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	flat["messages"] = msgs
	return json.Marshal(flat)
}
