package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/logging"
)

const subject = "perryd.events"

// natsBus fans lifecycle events out over NATS, grounded on
// internal/events/bus/nats.go's NATSEventBus. It also delivers locally to
// in-process subscribers, since most of perryd's own consumers (the RPC
// surface's notifications, if any) live in the same process.
type natsBus struct {
	conn *nats.Conn
	log  *logging.Logger

	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int
}

// NewNATS connects to url and returns a Bus backed by it. Callers should
// fall back to NewMemory() if url is empty or the connection fails.
func NewNATS(url, clientID string, log *logging.Logger) (Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	b := &natsBus{conn: conn, log: log, subs: make(map[int]Handler)}
	if _, err := conn.Subscribe(subject, b.handleRemote); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return b, nil
}

func (b *natsBus) handleRemote(msg *nats.Msg) {
	var evt Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return
	}
	b.dispatch(evt)
}

func (b *natsBus) dispatch(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subs {
		h(evt)
	}
}

func (b *natsBus) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Error("marshaling event", zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.log.Error("publishing event", zap.Error(err), zap.String("type", evt.Type))
	}
}

type natsSubscription struct {
	bus *natsBus
	id  int
}

func (s *natsSubscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}

func (b *natsBus) Subscribe(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	return &natsSubscription{bus: b, id: id}
}

func (b *natsBus) Close() error {
	b.conn.Close()
	return nil
}
