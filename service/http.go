package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/flow"
)

func init() {
	Register("http", newHTTPService)
}

type httpService struct {
	cfg        *config.ServiceConfig
	dispatcher *flow.Dispatcher
	mux        *http.ServeMux
}

func newHTTPService(cfg *config.ServiceConfig, d *flow.Dispatcher) (Service, error) {
	s := &httpService{cfg: cfg, dispatcher: d, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

func (s *httpService) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	handle(s.mux, "GET /openapi.json", s.handleOpenAPI)
	handle(s.mux, "GET /docs", s.handleDocs)
	handle(s.mux, "POST /{flow}", s.handleFlow)
}

// Handler returns the full HTTP handler, CORS included. Exposed so tests
// can drive the service without a listener.
func (s *httpService) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *httpService) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errChan := make(chan error, 1)
	go func() {
		logger.FromContext(ctx).Info("http service listening", "addr", addr, "flows", s.dispatcher.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http service: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http service shutdown: %w", err)
		}
	}
	return nil
}

// handle registers an error-returning handler under pattern. Each request
// gets a logger tagged with a request id; returned errors are rendered as
// the standard error envelope with the status-derived HTTP code.
func handle(mux *http.ServeMux, pattern string, fn func(w http.ResponseWriter, r *http.Request) error) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()[:8]
		log := logger.FromContext(r.Context()).With("req_id", reqID)
		r = r.WithContext(logger.NewContext(r.Context(), log))
		if err := fn(w, r); err != nil {
			log.Warn("request failed", "pattern", pattern, "err", err)
			writeError(w, err)
		}
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := core.StatusOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(core.HTTPStatusCode(status))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"status":  status,
			"message": err.Error(),
		},
	})
}

func (s *httpService) handleFlow(w http.ResponseWriter, r *http.Request) error {
	name := r.PathValue("flow")
	f, ok := s.dispatcher.Flow(name)
	if !ok {
		return core.NewError(core.NOT_FOUND, "flow %q is not registered", name)
	}

	kwargs, err := decodeBody(r)
	if err != nil {
		return err
	}

	if f.Stream {
		return s.streamFlow(w, r, name, kwargs)
	}

	resp, err := s.dispatcher.Execute(r.Context(), name, kwargs, flow.Options{})
	if err != nil {
		return err
	}
	data, err := resp.MarshalFlat()
	if err != nil {
		return core.Errorf(core.INTERNAL, err, "encode response")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
	return nil
}

// streamFlow serves one invocation as an SSE stream: one "data:" event per
// chunk, an error event on failure, and a single terminal [DONE].
func (s *httpService) streamFlow(w http.ResponseWriter, r *http.Request, name string, kwargs map[string]any) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return core.NewError(core.INTERNAL, "response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	pipe := core.NewStreamPipe(0)
	errChan := make(chan error, 1)
	go func() {
		_, err := s.dispatcher.Execute(r.Context(), name, kwargs, flow.Options{Pipe: pipe})
		errChan <- err
	}()

	for chunk := range pipe.Chunks() {
		writeSSE(w, flusher, chunk)
	}
	if err := <-errChan; err != nil {
		writeSSE(w, flusher, core.StreamChunk{
			Kind: core.ChunkError,
			Content: map[string]any{
				"status":  core.StatusOf(err),
				"message": err.Error(),
			},
		})
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, chunk core.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func decodeBody(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, core.Errorf(core.INVALID_ARGUMENT, err, "read request body")
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var kwargs map[string]any
	if err := json.Unmarshal(body, &kwargs); err != nil {
		return nil, core.Errorf(core.INVALID_ARGUMENT, err, "request body is not a JSON object")
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return kwargs, nil
}

// handleOpenAPI renders an OpenAPI 3.1 document: one POST path per flow
// with its input schema, plus reflected component schemas.
func (s *httpService) handleOpenAPI(w http.ResponseWriter, r *http.Request) error {
	reflector := &jsonschema.Reflector{DoNotReference: true}
	responseSchema := reflector.Reflect(&core.Response{})
	chunkSchema := reflector.Reflect(&core.StreamChunk{})

	paths := map[string]any{}
	for _, name := range s.dispatcher.Names() {
		f, _ := s.dispatcher.Flow(name)
		paths["/"+name] = map[string]any{
			"post": map[string]any{
				"operationId": name,
				"summary":     f.Description,
				"requestBody": map[string]any{
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": core.JSONSchema(f.InputSchema, false),
						},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Flow response",
						"content": map[string]any{
							contentTypeFor(f): map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/" + schemaNameFor(f)},
							},
						},
					},
				},
			},
		}
	}

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "FlowLLM",
			"version": "1.0.0",
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": map[string]any{
				"Response":    responseSchema,
				"StreamChunk": chunkSchema,
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(doc)
}

func contentTypeFor(f *flow.Flow) string {
	if f.Stream {
		return "text/event-stream"
	}
	return "application/json"
}

func schemaNameFor(f *flow.Flow) string {
	if f.Stream {
		return "StreamChunk"
	}
	return "Response"
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
  <title>FlowLLM API</title>
  <meta charset="utf-8"/>
</head>
<body>
  <redoc spec-url="/openapi.json"></redoc>
  <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>`

func (s *httpService) handleDocs(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := io.WriteString(w, docsPage)
	return err
}

// corsMiddleware allows cross-origin browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
