package tts

import (
	"context"

	"github.com/dgnsrekt/speak/internal/audio"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

// Stream is one running output process fed on stdin.
type Stream interface {
	Write(chunk []byte) error
	HasExited() (bool, int)
	Done() <-chan struct{}
	Finish() int
	Terminate()
}

// Output plays audio, either streamed or from a file.
type Output interface {
	StartStreaming(ctx context.Context, hint ttypes.FormatHint) (Stream, error)
	PlayFile(ctx context.Context, path string) error
}

type sinkOutput struct {
	sink *audio.Sink
}

// NewSinkOutput adapts an audio.Sink to Output.
func NewSinkOutput(sink *audio.Sink) Output {
	return sinkOutput{sink: sink}
}

func (o sinkOutput) StartStreaming(ctx context.Context, hint ttypes.FormatHint) (Stream, error) {
	h, err := o.sink.StartStreaming(ctx, hint)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (o sinkOutput) PlayFile(ctx context.Context, path string) error {
	return o.sink.PlayFile(ctx, path)
}
