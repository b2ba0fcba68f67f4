package core

import (
	"context"
	"sync"
)

// ChunkKind classifies a streamed chunk.
type ChunkKind string

const (
	ChunkAnswer ChunkKind = "answer"
	ChunkThink  ChunkKind = "think"
	ChunkTool   ChunkKind = "tool"
	ChunkError  ChunkKind = "error"
	ChunkDone   ChunkKind = "done"
)

// StreamChunk is one unit of partial output emitted by an op. Chunks from a
// single op are delivered in emission order; ChunkDone is terminal and is
// appended by the service layer exactly once.
type StreamChunk struct {
	Kind    ChunkKind `json:"type"`
	Content any       `json:"content"`
}

// AnswerChunk is shorthand for a text answer chunk.
func AnswerChunk(text string) StreamChunk { return StreamChunk{Kind: ChunkAnswer, Content: text} }

// ThinkChunk is shorthand for a reasoning-trace chunk.
func ThinkChunk(text string) StreamChunk { return StreamChunk{Kind: ChunkThink, Content: text} }

// StreamPipe is the bounded, ordered outbox connecting ops to the serving
// transport. Ops send with backpressure; the dispatcher closes the send side
// once the flow's root op has returned (at which point no producer remains,
// see the parallel-join invariant), and the service drains until closed.
type StreamPipe struct {
	ch        chan StreamChunk
	closeOnce sync.Once
}

// DefaultPipeSize bounds the outbox when no explicit size is configured.
const DefaultPipeSize = 64

func NewStreamPipe(size int) *StreamPipe {
	if size <= 0 {
		size = DefaultPipeSize
	}
	return &StreamPipe{ch: make(chan StreamChunk, size)}
}

// Send enqueues a chunk, blocking while the outbox is full. It fails with
// CANCELLED or DEADLINE_EXCEEDED once ctx is done (client disconnects
// surface here as context cancellation).
func (p *StreamPipe) Send(ctx context.Context, chunk StreamChunk) error {
	select {
	case p.ch <- chunk:
		return nil
	case <-ctx.Done():
		return FromContextErr(ctx.Err())
	}
}

// Chunks exposes the receive side for the service layer.
func (p *StreamPipe) Chunks() <-chan StreamChunk { return p.ch }

// CloseSend closes the pipe. Only the dispatcher calls this, after the
// flow invocation has returned and every producer has settled.
func (p *StreamPipe) CloseSend() {
	p.closeOnce.Do(func() { close(p.ch) })
}
