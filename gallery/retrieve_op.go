package gallery

import (
	"context"
	"strings"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/vectorstore"
)

// RetrieveOp searches the configured vector store and returns the matching
// passages, newline-joined, for downstream ops to ground on.
type RetrieveOp struct {
	op.Base
}

// InsertOp adds one document to the configured vector store.
type InsertOp struct {
	op.Base
}

func init() {
	var retrieveCtor op.Constructor
	retrieveCtor = func(cfg op.Config) (op.Op, error) {
		o := &RetrieveOp{}
		if err := o.Init(o, retrieveCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("retrieve_op", retrieveCtor)

	var insertCtor op.Constructor
	insertCtor = func(cfg op.Config) (op.Op, error) {
		o := &InsertOp{}
		if err := o.Init(o, insertCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("insert_op", insertCtor)
}

func (o *RetrieveOp) BuildToolCall() *core.ToolCall {
	return &core.ToolCall{
		Description: "Retrieve the passages most similar to the query.",
		InputSchema: map[string]core.ParamAttrs{
			"query": {Type: "str", Description: "The search query.", Required: true},
			"top_k": {Type: "int", Description: "How many passages to return.", Default: 5},
		},
		OutputSchema: map[string]core.ParamAttrs{
			"retrieve_result": {Type: "str", Description: "The matching passages, one per line."},
		},
	}
}

func (o *RetrieveOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	store, err := o.VectorStore()
	if err != nil {
		return nil, err
	}
	query := o.InputString("query")
	topK := 5
	if v, ok := o.Input("top_k"); ok {
		switch n := v.(type) {
		case int:
			topK = n
		case float64:
			topK = int(n)
		}
	}

	hits, err := store.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(hits))
	for i, hit := range hits {
		lines[i] = hit.Text
	}
	return strings.Join(lines, "\n"), nil
}

func (o *InsertOp) BuildToolCall() *core.ToolCall {
	return &core.ToolCall{
		Description: "Store a document for later retrieval.",
		InputSchema: map[string]core.ParamAttrs{
			"text": {Type: "str", Description: "The document text.", Required: true},
			"id":   {Type: "str", Description: "Optional stable document id."},
		},
		OutputSchema: map[string]core.ParamAttrs{
			"insert_result": {Type: "str", Description: "The id of the stored document."},
		},
	}
}

func (o *InsertOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	store, err := o.VectorStore()
	if err != nil {
		return nil, err
	}
	nodes := []vectorstore.Node{{ID: o.InputString("id"), Text: o.InputString("text")}}
	if nodes[0].Text == "" {
		return nil, core.NewError(core.INVALID_ARGUMENT, "op %s: empty document text", o.Name())
	}
	if err := store.Insert(ctx, nodes); err != nil {
		return nil, err
	}
	return nodes[0].ID, nil
}
