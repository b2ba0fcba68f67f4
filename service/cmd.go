package service

import (
	"context"
	"fmt"
	"os"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/flow"
)

func init() {
	Register("cmd", newCmdService)
}

// cmdService runs one configured flow to completion and prints its
// response, for pipelines and smoke tests.
type cmdService struct {
	cfg        *config.ServiceConfig
	dispatcher *flow.Dispatcher
	out        *os.File
}

func newCmdService(cfg *config.ServiceConfig, d *flow.Dispatcher) (Service, error) {
	if cfg.Cmd.Flow == "" {
		return nil, core.NewError(core.INVALID_ARGUMENT, "cmd backend requires cmd.flow to be set")
	}
	return &cmdService{cfg: cfg, dispatcher: d, out: os.Stdout}, nil
}

func (s *cmdService) Run(ctx context.Context) error {
	name := s.cfg.Cmd.Flow
	f, ok := s.dispatcher.Flow(name)
	if !ok {
		return core.NewError(core.NOT_FOUND, "flow %q is not registered", name)
	}

	if f.Stream {
		pipe := core.NewStreamPipe(0)
		errChan := make(chan error, 1)
		go func() {
			_, err := s.dispatcher.Execute(ctx, name, s.cfg.Cmd.Input, flow.Options{Pipe: pipe})
			errChan <- err
		}()
		for chunk := range pipe.Chunks() {
			if chunk.Kind == core.ChunkAnswer {
				fmt.Fprint(s.out, chunk.Content)
			}
		}
		if err := <-errChan; err != nil {
			return err
		}
		fmt.Fprintln(s.out)
		return nil
	}

	resp, err := s.dispatcher.Execute(ctx, name, s.cfg.Cmd.Input, flow.Options{})
	if err != nil {
		return err
	}
	data, err := resp.MarshalFlat()
	if err != nil {
		return core.Errorf(core.INTERNAL, err, "encode response")
	}
	fmt.Fprintln(s.out, string(data))
	logger.FromContext(ctx).Info("cmd flow finished", "flow", name)
	return nil
}
