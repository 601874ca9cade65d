package deadletter

import (
	"context"

	"github.com/imrishuroy/serverless-snacks/internal/bus"
	"github.com/imrishuroy/serverless-snacks/internal/metrics"
)

// Metered counts every captured failure before handing it to the channel.
type Metered struct {
	Channel
	Recorder metrics.Recorder
}

func (m Metered) Capture(ctx context.Context, f bus.Failure) error {
	if err := m.Channel.Capture(ctx, f); err != nil {
		return err
	}
	m.Recorder.Count(ctx, metrics.EventsDeadLettered, 1)
	return nil
}
