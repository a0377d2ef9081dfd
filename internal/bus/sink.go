package bus

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/events"
)

// Sink forwards every internal event to the broker connection so other
// services (production scheduling, dashboards) see the optimization
// lifecycle. Delivery is best-effort: a missing or dead connection drops
// events instead of stalling publishers.
type Sink struct {
	mu   sync.Mutex
	conn io.Writer
	log  zerolog.Logger
}

// NewSink creates a sink. Events are dropped until Attach is called.
func NewSink(log zerolog.Logger) *Sink {
	return &Sink{
		log: log.With().Str("component", "bus_sink").Logger(),
	}
}

// Attach points the sink at a broker connection, replacing any previous
// one. Attach(nil) detaches.
func (s *Sink) Attach(conn io.Writer) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Bind subscribes the sink to every event on the internal bus. Call once;
// reconnects go through Attach.
func (s *Sink) Bind(b *events.Bus) {
	b.SubscribeAll(s.forward)
}

func (s *Sink) forward(event *events.Event) {
	env, err := NewEnvelope(string(event.Type), event.CorrelationID, "", event.Data)
	if err != nil {
		s.log.Error().Err(err).Str("topic", string(event.Type)).Msg("Failed to encode event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	if err := WriteFrame(s.conn, env); err != nil {
		s.log.Warn().Err(err).Str("topic", string(event.Type)).Msg("Failed to forward event")
	}
}
