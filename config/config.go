// Package config loads and freezes the service configuration. A config is
// assembled once at startup (YAML file plus dotted command-line overrides)
// and is immutable while serving; changing it requires a restart.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-yaml"

	"github.com/flowllm-ai/flowllm/core"
)

// HTTPConfig configures the HTTP backend.
type HTTPConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// MCPConfig configures the MCP backend. Transport is "sse" or "stdio".
type MCPConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	Transport string `yaml:"transport" json:"transport"`
}

// CmdConfig configures the one-shot command backend.
type CmdConfig struct {
	Flow  string         `yaml:"flow" json:"flow"`
	Input map[string]any `yaml:"input" json:"input"`
}

// FlowConfig declares one flow: the expression that builds its op tree plus
// its service-facing metadata.
type FlowConfig struct {
	FlowContent string                     `yaml:"flow_content" json:"flow_content"`
	Description string                     `yaml:"description" json:"description"`
	Stream      bool                       `yaml:"stream" json:"stream"`
	InputSchema map[string]core.ParamAttrs `yaml:"input_schema" json:"input_schema"`
}

// OpConfig holds per-op overrides merged into the op's construction config
// when a flow expression names the op.
type OpConfig struct {
	MaxRetries     int            `yaml:"max_retries" json:"max_retries"`
	RaiseOnFailure *bool          `yaml:"raise_on_failure" json:"raise_on_failure"`
	Language       string         `yaml:"language" json:"language"`
	PromptPath     string         `yaml:"prompt_path" json:"prompt_path"`
	LLM            string         `yaml:"llm" json:"llm"`
	EmbeddingModel string         `yaml:"embedding_model" json:"embedding_model"`
	VectorStore    string         `yaml:"vector_store" json:"vector_store"`
	EnableCache    bool           `yaml:"enable_cache" json:"enable_cache"`
	CacheExpire    int            `yaml:"cache_expire" json:"cache_expire"`
	CacheDir       string         `yaml:"cache_dir" json:"cache_dir"`
	Params         map[string]any `yaml:"params" json:"params"`
}

// LLMConfig declares one model endpoint under a stable name.
type LLMConfig struct {
	Backend    string         `yaml:"backend" json:"backend"`
	ModelName  string         `yaml:"model_name" json:"model_name"`
	APIKeyEnv  string         `yaml:"api_key_env" json:"api_key_env"`
	BaseURL    string         `yaml:"base_url" json:"base_url"`
	TokenCount string         `yaml:"token_count" json:"token_count"`
	Params     map[string]any `yaml:"params" json:"params"`
}

// EmbeddingConfig declares one embedding model endpoint.
type EmbeddingConfig struct {
	Backend   string         `yaml:"backend" json:"backend"`
	ModelName string         `yaml:"model_name" json:"model_name"`
	APIKeyEnv string         `yaml:"api_key_env" json:"api_key_env"`
	BaseURL   string         `yaml:"base_url" json:"base_url"`
	Params    map[string]any `yaml:"params" json:"params"`
}

// VectorStoreConfig declares one vector store and the embedding model it
// uses to vectorize text.
type VectorStoreConfig struct {
	Backend        string         `yaml:"backend" json:"backend"`
	EmbeddingModel string         `yaml:"embedding_model" json:"embedding_model"`
	Params         map[string]any `yaml:"params" json:"params"`
}

// ServiceConfig is the root configuration consumed by the whole process.
type ServiceConfig struct {
	Backend              string `yaml:"backend" json:"backend"`
	Language             string `yaml:"language" json:"language"`
	ThreadPoolMaxWorkers int    `yaml:"thread_pool_max_workers" json:"thread_pool_max_workers"`
	FlowTimeoutSeconds   int    `yaml:"flow_timeout_seconds" json:"flow_timeout_seconds"`

	HTTP HTTPConfig `yaml:"http" json:"http"`
	MCP  MCPConfig  `yaml:"mcp" json:"mcp"`
	Cmd  CmdConfig  `yaml:"cmd" json:"cmd"`

	Flows           map[string]FlowConfig        `yaml:"flow" json:"flow"`
	Ops             map[string]OpConfig          `yaml:"op" json:"op"`
	LLMs            map[string]LLMConfig         `yaml:"llm" json:"llm"`
	EmbeddingModels map[string]EmbeddingConfig   `yaml:"embedding_model" json:"embedding_model"`
	VectorStores    map[string]VectorStoreConfig `yaml:"vector_store" json:"vector_store"`
}

// Default returns the built-in configuration: an HTTP backend on
// 0.0.0.0:8001 with no flows declared.
func Default() *ServiceConfig {
	return &ServiceConfig{
		Backend:              "http",
		Language:             "",
		ThreadPoolMaxWorkers: 128,
		FlowTimeoutSeconds:   600,
		HTTP:                 HTTPConfig{Host: "0.0.0.0", Port: 8001},
		MCP:                  MCPConfig{Host: "0.0.0.0", Port: 8002, Transport: "sse"},
	}
}

// Load reads a YAML config file, applies dotted overrides of the form
// "path.to.key=value" on top, and returns the merged config. path == ""
// starts from Default.
func Load(path string, overrides []string) (*ServiceConfig, error) {
	raw := map[string]any{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, core.Errorf(core.NOT_FOUND, err, "config: cannot read %s", path)
		}
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, core.Errorf(core.INVALID_ARGUMENT, err, "config: cannot parse %s", path)
		}
	}
	for _, ov := range overrides {
		if err := applyOverride(raw, ov); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	// Round-trip through YAML so overrides typed into the raw map land in
	// the struct exactly like file values do.
	b, err := yaml.Marshal(raw)
	if err != nil {
		return nil, core.Errorf(core.INTERNAL, err, "config: cannot re-encode merged config")
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, core.Errorf(core.INVALID_ARGUMENT, err, "config: merged config is invalid")
	}
	return cfg, nil
}

// applyOverride writes one "a.b.c=value" assignment into the raw tree,
// creating intermediate maps as needed. Values are parsed as bool, int,
// float, then string.
func applyOverride(raw map[string]any, ov string) error {
	key, value, ok := strings.Cut(ov, "=")
	if !ok || key == "" {
		return core.NewError(core.INVALID_ARGUMENT, "config: override %q is not key=value", ov)
	}
	parts := strings.Split(key, ".")
	node := raw
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = parseScalar(value)
	return nil
}

func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

var current atomic.Pointer[ServiceConfig]

// Set installs the process-wide config. It is called once at startup,
// before any flow runs.
func Set(cfg *ServiceConfig) {
	current.Store(cfg)
}

// Current returns the process-wide config, falling back to Default when
// none was installed (tests, library use).
func Current() *ServiceConfig {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}
