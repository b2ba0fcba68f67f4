package gallery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/llm"
	"github.com/flowllm-ai/flowllm/op"
)

var defaultReactPrompts = map[string]string{
	"react_prompt": `You are a tool-routing assistant. You can call exactly one of these tools:

{tools}

Answer the user's question. Reply with a single JSON object and nothing else:
- to call a tool: {"tool": "<tool name>", "args": {<tool arguments>}}
- to answer directly: {"answer": "<your answer>"}

Question: {query}`,
}

// ReactAgentOp routes a question to one of its attached child ops. The
// model sees each child's tool schema, picks a tool (or answers directly),
// and the chosen child runs with the model-provided arguments.
type ReactAgentOp struct {
	op.Base
}

func init() {
	var ctor op.Constructor
	ctor = func(cfg op.Config) (op.Op, error) {
		o := &ReactAgentOp{}
		if err := o.Init(o, ctor, cfg); err != nil {
			return nil, err
		}
		if cfg.PromptPath == "" {
			o.SetPrompts(defaultReactPrompts)
		}
		return o, nil
	}
	op.Register("react_agent_op", ctor)
}

type reactDecision struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Answer string         `json:"answer"`
}

func (o *ReactAgentOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	if len(o.ChildNames()) == 0 {
		return nil, core.NewError(core.FAILED_PRECONDITION, "op %s has no tools attached", o.Name())
	}
	query := fc.GetString("query")
	prompt, err := o.Prompt("react_prompt", map[string]any{
		"query": query,
		"tools": o.toolDigest(),
	})
	if err != nil {
		return nil, err
	}
	handle, err := o.LLM()
	if err != nil {
		return nil, err
	}

	reply, err := handle.Generate(ctx, &llm.Request{
		Messages: []core.Message{{Role: core.RoleUser, Content: prompt}},
		Params:   o.Cfg().Params,
	}, nil)
	if err != nil {
		return nil, err
	}

	decision, err := parseDecision(reply.Content)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)

	if decision.Tool == "" {
		log.Info("react agent answered directly", "op", o.Name())
		fc.SetAnswer(decision.Answer)
		return decision.Answer, nil
	}

	child, ok := o.Child(decision.Tool)
	if !ok {
		return nil, core.NewError(core.INVALID_ARGUMENT,
			"op %s: model chose unknown tool %q", o.Name(), decision.Tool)
	}
	log.Info("react agent dispatching tool", "op", o.Name(), "tool", decision.Tool)
	if err := fc.Emit(core.StreamChunk{Kind: core.ChunkTool, Content: decision.Tool}); err != nil {
		return nil, err
	}

	result, err := op.AsyncCall(ctx, child, fc, decision.Args)
	if err != nil {
		return nil, err
	}
	answer := fmt.Sprint(result)
	fc.SetAnswer(answer)
	return answer, nil
}

// toolDigest renders the children's tool schemas for the prompt.
func (o *ReactAgentOp) toolDigest() string {
	var b strings.Builder
	for _, name := range o.ChildNames() {
		child, _ := o.Child(name)
		fmt.Fprintf(&b, "- %s", name)
		if td, ok := child.(interface{ ToolCall() *core.ToolCall }); ok {
			if tc := td.ToolCall(); tc != nil {
				if tc.Description != "" {
					fmt.Fprintf(&b, ": %s", tc.Description)
				}
				if schema, err := json.Marshal(core.JSONSchema(tc.InputSchema, false)); err == nil {
					fmt.Fprintf(&b, " args=%s", schema)
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseDecision extracts the JSON decision object from the model reply,
// tolerating surrounding prose and code fences.
func parseDecision(reply string) (*reactDecision, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, core.NewError(core.INVALID_ARGUMENT, "model reply has no decision object: %q", reply)
	}
	var d reactDecision
	if err := json.Unmarshal([]byte(reply[start:end+1]), &d); err != nil {
		return nil, core.Errorf(core.INVALID_ARGUMENT, err, "model reply is not a valid decision")
	}
	if d.Tool == "" && d.Answer == "" {
		return nil, core.NewError(core.INVALID_ARGUMENT, "model decision names neither a tool nor an answer")
	}
	return &d, nil
}
