package op

import "time"

// ConfigFromKwargs maps the keyword arguments of a flow-expression op call
// onto a construction Config. Well-known keys land on their fields; the
// rest pass through as op params.
func ConfigFromKwargs(kwargs map[string]any) Config {
	cfg := Config{}
	for key, value := range kwargs {
		switch key {
		case "max_retries":
			cfg.MaxRetries = asInt(value)
		case "raise_on_failure":
			if b, ok := value.(bool); ok {
				cfg.RaiseOnFailure = BoolPtr(b)
			}
		case "language":
			cfg.Language, _ = value.(string)
		case "prompt_path":
			cfg.PromptPath, _ = value.(string)
		case "llm":
			cfg.LLM, _ = value.(string)
		case "embedding_model":
			cfg.EmbeddingModel, _ = value.(string)
		case "vector_store":
			cfg.VectorStore, _ = value.(string)
		case "enable_cache":
			cfg.EnableCache, _ = value.(bool)
		case "cache_expire":
			cfg.CacheExpire = time.Duration(asInt(value)) * time.Second
		case "cache_dir":
			cfg.CacheDir, _ = value.(string)
		case "tool_index":
			cfg.ToolIndex = asInt(value)
		case "save_answer":
			cfg.SaveAnswer, _ = value.(bool)
		default:
			if cfg.Params == nil {
				cfg.Params = map[string]any{}
			}
			cfg.Params[key] = value
		}
	}
	return cfg
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
