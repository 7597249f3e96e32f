package sink

import (
	"context"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/bus"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/metrics"
	"github.com/GeoAziz/netverse-engine/internal/packet"
)

// writeTimeout bounds one store write so a stalled backend cannot wedge
// the consumer loop.
const writeTimeout = 5 * time.Second

// Consumer drains the packet topic into the configured stores. It is just
// another bus subscriber, so a slow store sheds load through the subscriber
// queue instead of stalling capture or live delivery.
type Consumer struct {
	bus    *bus.Bus
	stores []Store
	sub    *bus.Subscriber
	done   chan struct{}
}

// NewConsumer creates a consumer writing to every given store.
func NewConsumer(b *bus.Bus, stores ...Store) *Consumer {
	return &Consumer{bus: b, stores: stores}
}

// Start subscribes to the packet topic and begins draining it.
func (c *Consumer) Start() error {
	sub, err := c.bus.Subscribe(bus.TopicPackets)
	if err != nil {
		return err
	}
	c.sub = sub
	c.done = make(chan struct{})
	go c.run()
	return nil
}

// Stop detaches from the bus and waits for the drain loop to finish.
func (c *Consumer) Stop() {
	if c.sub == nil {
		return
	}
	c.bus.Unsubscribe(c.sub)
	<-c.done
}

func (c *Consumer) run() {
	defer close(c.done)
	for event := range c.sub.Events() {
		rec, ok := event.Payload.(*packet.Record)
		if !ok {
			continue
		}
		c.persist(rec)
	}
}

func (c *Consumer) persist(rec *packet.Record) {
	for _, store := range c.stores {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := store.Write(ctx, rec)
		cancel()
		if err != nil {
			metrics.SinkWritesTotal.WithLabelValues("error").Inc()
			log.GetLogger().Errorf("persist record %s: %v", rec.ID, err)
			continue
		}
		metrics.SinkWritesTotal.WithLabelValues("ok").Inc()
	}
}
