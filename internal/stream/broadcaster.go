package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

// RebuildEvent is the event name browsers listen for.
const RebuildEvent = "rebuild"

// Broadcaster sends one named event to every registered connection.
type Broadcaster struct {
	registry *Registry
	event    string
	logger   logging.Logger
}

// NewBroadcaster creates a broadcaster sending RebuildEvent over registry.
func NewBroadcaster(registry *Registry, logger logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Broadcaster{
		registry: registry,
		event:    RebuildEvent,
		logger:   logger.WithComponent("broadcast"),
	}
}

// Registry returns the registry the broadcaster fans out over.
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Broadcast sends message to every connection registered when the call
// starts, each tagged with its own id. A connection that fails is removed and
// closed; the others still receive the message. It returns the number of
// successful deliveries.
func (b *Broadcaster) Broadcast(message string) int {
	conns := b.registry.snapshot()
	if len(conns) == 0 {
		return 0
	}

	var (
		delivered int64
		wg        sync.WaitGroup
	)

	for id, conn := range conns {
		wg.Add(1)
		go func(id string, conn Conn) {
			defer wg.Done()

			if err := conn.Send(id, b.event, message); err != nil {
				b.logger.Warn(context.Background(), errors.NewDeliveryError(id, err),
					"Dropping push connection", "connection", id)
				if b.registry.Unregister(id) {
					_ = conn.Close()
				}
				return
			}
			atomic.AddInt64(&delivered, 1)
		}(id, conn)
	}

	wg.Wait()

	return int(delivered)
}
