package server

import (
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/opticut/internal/events"
)

// eventStream fans internal events out to websocket subscribers. A single
// bus subscription feeds all connections; a slow client drops events
// instead of blocking publishers.
type eventStream struct {
	mu      sync.Mutex
	clients map[chan *events.Event]struct{}
}

func newEventStream(bus *events.Bus) *eventStream {
	es := &eventStream{clients: make(map[chan *events.Event]struct{})}
	if bus != nil {
		bus.SubscribeAll(es.broadcast)
	}
	return es
}

func (es *eventStream) broadcast(event *events.Event) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for ch := range es.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (es *eventStream) register() chan *events.Event {
	ch := make(chan *events.Event, 32)
	es.mu.Lock()
	es.clients[ch] = struct{}{}
	es.mu.Unlock()
	return ch
}

func (es *eventStream) unregister(ch chan *events.Event) {
	es.mu.Lock()
	delete(es.clients, ch)
	es.mu.Unlock()
}

// handleEventStream upgrades the connection and streams lifecycle events
// as JSON until the client goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := s.stream.register()
	defer s.stream.unregister(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
