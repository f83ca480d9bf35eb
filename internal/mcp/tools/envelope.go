package tools

import (
	"context"
	"encoding/json"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

type ErrorBody struct {
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	Statement      string `json:"statement,omitempty"`
	ParameterIndex *int   `json:"parameter_index,omitempty"`
	Row            *int64 `json:"row,omitempty"`
	Column         string `json:"column,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ToolError is returned by every failed call. Its text is the JSON error envelope,
// which the MCP server relays unchanged as the content of an isError result.
type ToolError struct {
	Envelope ErrorEnvelope
	cause    *duck.Error
}

func (e *ToolError) Error() string {
	data, err := json.Marshal(e.Envelope)
	if err != nil {
		return `{"error":{"kind":"` + e.Envelope.Error.Kind + `","message":"failed to encode error"}}`
	}
	return string(data)
}

func (e *ToolError) Unwrap() error {
	return e.cause
}

func (e *ToolError) Kind() duck.Kind {
	return duck.Kind(e.Envelope.Error.Kind)
}

func newToolError(ctx context.Context, err error) *ToolError {
	de := duck.FromEngine(ctx, err, duck.KindExecution)
	return &ToolError{
		Envelope: ErrorEnvelope{Error: ErrorBody{
			Kind:           string(de.Kind),
			Message:        de.Message,
			Statement:      de.Statement,
			ParameterIndex: de.ParameterIndex,
			Row:            de.Row,
			Column:         de.Column,
		}},
		cause: de,
	}
}
