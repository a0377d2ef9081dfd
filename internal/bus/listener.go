package bus

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/events"
	"github.com/aristath/opticut/internal/modules/optimization"
	"github.com/aristath/opticut/internal/tenant"
)

// Listener consumes optimization requests from a broker connection and
// feeds them to the consumer. One frame is handled at a time; the next
// frame is not read until the previous one reached a durable outcome.
type Listener struct {
	consumer *optimization.Consumer
	log      zerolog.Logger
}

// NewListener creates a listener.
func NewListener(consumer *optimization.Consumer, log zerolog.Logger) *Listener {
	return &Listener{
		consumer: consumer,
		log:      log.With().Str("component", "bus_listener").Logger(),
	}
}

// Serve reads frames from conn until EOF or context cancellation. Frames
// on unexpected topics or with undecodable bodies are logged and skipped;
// only handler errors (persistence failures) abort the stream so the
// broker redelivers from the unacknowledged frame.
func (l *Listener) Serve(ctx context.Context, conn io.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := ReadFrame(conn)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if env.Topic != string(events.OptimizationRequested) {
			l.log.Debug().Str("topic", env.Topic).Msg("Ignoring frame on unexpected topic")
			continue
		}

		var msg optimization.RequestMessage
		if err := env.Decode(&msg); err != nil {
			l.log.Warn().Err(err).Str("topic", env.Topic).Msg("Dropping undecodable request")
			continue
		}
		if msg.CorrelationID == "" {
			msg.CorrelationID = env.CorrelationID
		}

		msgCtx := ctx
		if env.TenantID != "" {
			msgCtx = tenant.WithTenant(ctx, env.TenantID)
		}

		if err := l.consumer.Handle(msgCtx, msg); err != nil {
			l.log.Error().Err(err).Str("scenarioId", msg.ScenarioID).Msg("Request handling failed")
			return err
		}
	}
}
