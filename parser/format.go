package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowllm-ai/flowllm/op"
)

// Format serializes a composed op tree back into the expression language.
// Re-parsing the result yields a structurally equivalent tree: the same
// combinator shape over the same op names.
func Format(o op.Op) string {
	return formatNode(o, 0)
}

// formatNode wraps a child in parentheses when its operator binds looser
// than the surrounding one.
func formatNode(o op.Op, parentPrec int) string {
	var text string
	var prec int
	switch v := o.(type) {
	case *op.SequentialOp:
		prec = 10
		text = joinChildren(v.Children(), " >> ", prec)
	case *op.ParallelOp:
		prec = 20
		text = joinChildren(v.Children(), " | ", prec)
	default:
		return formatLeaf(o)
	}
	if prec < parentPrec {
		return "(" + text + ")"
	}
	return text
}

func joinChildren(children []op.Op, sep string, prec int) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = formatNode(c, prec)
	}
	return strings.Join(parts, sep)
}

func formatLeaf(o op.Op) string {
	withChildren := o.(interface {
		ChildNames() []string
		Child(string) (op.Op, bool)
	})
	text := o.Name() + formatKwargs(o)
	names := withChildren.ChildNames()
	if len(names) == 0 {
		return text
	}
	entries := make([]string, len(names))
	for i, name := range names {
		child, _ := withChildren.Child(name)
		entries[i] = fmt.Sprintf("%s: %s", name, formatNode(child, 0))
	}
	// "<<" binds tightest, no parentheses needed around the map.
	return fmt.Sprintf("%s << {%s}", text, strings.Join(entries, ", "))
}

// formatKwargs renders the construction arguments that survive a
// round-trip: the well-known config fields plus free params.
func formatKwargs(o op.Op) string {
	cfg := o.(interface{ Cfg() op.Config }).Cfg()
	var args []string
	if cfg.ToolIndex > 0 {
		args = append(args, fmt.Sprintf("tool_index=%d", cfg.ToolIndex))
	}
	if cfg.SaveAnswer {
		args = append(args, "save_answer=true")
	}
	if cfg.EnableCache {
		args = append(args, "enable_cache=true")
	}
	if cfg.LLM != "" {
		args = append(args, fmt.Sprintf("llm=%q", cfg.LLM))
	}
	if cfg.Language != "" {
		args = append(args, fmt.Sprintf("language=%q", cfg.Language))
	}
	if cfg.MaxRetries > 1 {
		args = append(args, fmt.Sprintf("max_retries=%d", cfg.MaxRetries))
	}
	if cfg.RaiseOnFailure != nil && !*cfg.RaiseOnFailure {
		args = append(args, "raise_on_failure=false")
	}
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%s", k, formatValue(cfg.Params[k])))
	}
	return "(" + strings.Join(args, ", ") + ")"
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprint(t)
	}
}
