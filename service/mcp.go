package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/flow"
)

func init() {
	Register("mcp", newMCPService)
}

type mcpService struct {
	cfg        *config.ServiceConfig
	dispatcher *flow.Dispatcher
	server     *server.MCPServer
}

func newMCPService(cfg *config.ServiceConfig, d *flow.Dispatcher) (Service, error) {
	s := &mcpService{
		cfg:        cfg,
		dispatcher: d,
		server: server.NewMCPServer(
			"flowllm",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
	}
	for _, name := range d.Names() {
		f, _ := d.Flow(name)
		tool, err := toolFor(f)
		if err != nil {
			return nil, err
		}
		s.server.AddTool(tool, s.toolHandler(name))
	}
	return s, nil
}

// toolFor converts a flow into an MCP tool declaration. Flows exposed over
// MCP must declare an input schema, otherwise clients cannot call them.
func toolFor(f *flow.Flow) (mcp.Tool, error) {
	if len(f.InputSchema) == 0 {
		return mcp.Tool{}, core.NewError(core.FAILED_PRECONDITION,
			"flow %q has no input schema, required for the mcp backend", f.Name)
	}
	options := []mcp.ToolOption{mcp.WithDescription(f.Description)}
	for _, name := range sortedSchemaKeys(f.InputSchema) {
		attrs := f.InputSchema[name]
		var propOpts []mcp.PropertyOption
		if attrs.Description != "" {
			propOpts = append(propOpts, mcp.Description(attrs.Description))
		}
		if attrs.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch attrs.Type {
		case "int", "integer", "float", "number":
			options = append(options, mcp.WithNumber(name, propOpts...))
		case "bool", "boolean":
			options = append(options, mcp.WithBoolean(name, propOpts...))
		default:
			options = append(options, mcp.WithString(name, propOpts...))
		}
	}
	return mcp.NewTool(f.Name, options...), nil
}

// toolHandler runs one flow invocation per tool call. Streaming flows are
// collapsed to their final answer; MCP has no incremental chunk surface
// here.
func (s *mcpService) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := s.dispatcher.Execute(ctx, name, request.GetArguments(), flow.Options{Strict: true})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result := mcp.NewToolResultText(resp.Answer)
		if len(resp.Metadata) > 0 {
			// Outputs mirrored into response metadata by tool ops travel as
			// structured content next to the answer text.
			result.StructuredContent = resp.Metadata
		}
		return result, nil
	}
}

// Run serves over the configured transport until ctx is cancelled.
func (s *mcpService) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	switch s.cfg.MCP.Transport {
	case "stdio":
		log.Info("mcp service on stdio", "flows", s.dispatcher.Names())
		return server.ServeStdio(s.server)
	case "sse", "":
		addr := fmt.Sprintf("%s:%d", s.cfg.MCP.Host, s.cfg.MCP.Port)
		sse := server.NewSSEServer(s.server)
		log.Info("mcp service listening", "addr", addr, "flows", s.dispatcher.Names())

		errChan := make(chan error, 1)
		go func() {
			errChan <- sse.Start(addr)
		}()
		select {
		case err := <-errChan:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sse.Shutdown(shutdownCtx)
		}
	default:
		return core.NewError(core.INVALID_ARGUMENT, "unknown mcp transport %q", s.cfg.MCP.Transport)
	}
}

func sortedSchemaKeys(schema map[string]core.ParamAttrs) []string {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
