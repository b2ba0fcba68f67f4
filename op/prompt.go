package op

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
)

// SetPrompts installs an in-memory prompt map, bypassing the prompt file.
// Gallery ops use it with embedded YAML.
func (b *Base) SetPrompts(prompts map[string]string) {
	b.promptOnce.Do(func() {})
	b.prompts = prompts
}

// loadPrompts reads the op's prompt file once per op lifetime. The file is
// a flat YAML map of prompt name to template.
func (b *Base) loadPrompts() error {
	b.promptOnce.Do(func() {
		path := promptPath(b.cfg.PromptPath)
		if path == "" {
			b.promptErr = core.NewError(core.FAILED_PRECONDITION, "op %s declares no prompt path", b.name)
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			b.promptErr = core.Errorf(core.NOT_FOUND, err, "op %s: cannot read prompt file %s", b.name, path)
			return
		}
		prompts := map[string]string{}
		if err := yaml.Unmarshal(data, &prompts); err != nil {
			b.promptErr = core.Errorf(core.INVALID_ARGUMENT, err, "op %s: cannot parse prompt file %s", b.name, path)
			return
		}
		b.prompts = prompts
	})
	return b.promptErr
}

// promptPath normalizes the declared path: an op definition file like
// "chat_op.yaml" resolves to its sibling "chat_prompt.yaml".
func promptPath(path string) string {
	if strings.HasSuffix(path, "_op.yaml") {
		return strings.TrimSuffix(path, "_op.yaml") + "_prompt.yaml"
	}
	return path
}

// Prompt returns the named template with every "{var}" placeholder
// replaced. A locale-suffixed variant ("{name}_{language}") is preferred
// when the op's language matches.
func (b *Base) Prompt(name string, vars map[string]any) (string, error) {
	if err := b.loadPrompts(); err != nil {
		return "", err
	}
	template, err := b.lookupPrompt(name)
	if err != nil {
		return "", err
	}
	return PromptFormat(template, vars), nil
}

func (b *Base) lookupPrompt(name string) (string, error) {
	if lang := b.language(); lang != "" {
		if t, ok := b.prompts[name+"_"+lang]; ok {
			return t, nil
		}
	}
	if t, ok := b.prompts[name]; ok {
		return t, nil
	}
	return "", core.NewError(core.NOT_FOUND, "op %s: prompt %q not found", b.name, name)
}

func (b *Base) language() string {
	if b.cfg.Language != "" {
		return b.cfg.Language
	}
	return config.Current().Language
}

// PromptFormat substitutes "{var}" placeholders in a template. Unmatched
// placeholders are left as-is.
func PromptFormat(template string, vars map[string]any) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
