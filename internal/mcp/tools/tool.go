package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

// typedTool binds a handler with typed input and output to a tool definition.
type typedTool[In, Out any] struct {
	r      *Registry
	def    mcp.Tool
	handle func(ctx context.Context, in In) (Out, error)
}

func newTool[In, Out any](r *Registry, def mcp.Tool, handle func(ctx context.Context, in In) (Out, error)) *typedTool[In, Out] {
	return &typedTool[In, Out]{r: r, def: def, handle: handle}
}

func (t *typedTool[In, Out]) Name() string {
	return t.def.Name
}

func (t *typedTool[In, Out]) Register(server *mcp.Server) error {
	in, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", t.def.Name, err)
	}
	out, err := jsonschema.For[Out](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", t.def.Name, err)
	}

	def := t.def
	def.InputSchema = in
	def.OutputSchema = out

	mcp.AddTool(server, &def, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		res, err := t.call(ctx, in)
		if err != nil {
			var zero Out
			return nil, zero, err
		}
		return nil, res, nil
	})
	return nil
}

func (t *typedTool[In, Out]) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var in In
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			metrics.ToolCallsTotal.WithLabelValues(t.def.Name, "error").Inc()
			return nil, newToolError(ctx, duck.NewError(duck.KindParameterBinding, err, "invalid arguments for %s: %v", t.def.Name, err))
		}
	}
	return t.call(ctx, in)
}

// call runs the handler on the worker pool, records metrics and converts any
// failure into a *ToolError.
func (t *typedTool[In, Out]) call(ctx context.Context, in In) (Out, error) {
	name := t.def.Name
	start := t.r.clock.Now()

	v, err := t.r.pool.SubmitErr(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := t.handle(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}).Wait()

	duration := t.r.clock.Since(start)
	metrics.ToolCallDuration.WithLabelValues(name).Observe(duration.Seconds())

	if err != nil {
		te := t.r.toolError(ctx, err)
		metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		metrics.ToolErrorsTotal.WithLabelValues(name, string(te.Kind())).Inc()
		t.r.log.Warn("tools: call failed", "tool", name, "kind", te.Kind(), "error", te.Envelope.Error.Message, "duration", duration)
		var zero Out
		return zero, te
	}

	metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
	t.r.log.Debug("tools: call completed", "tool", name, "duration", duration)
	out, _ := v.(Out)
	return out, nil
}

func (r *Registry) toolError(ctx context.Context, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return newToolError(ctx, err)
}
