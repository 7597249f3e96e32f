package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"

	"github.com/GeoAziz/netverse-engine/internal/bus"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/packet"
)

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 4096
)

// client is one live WebSocket session. The write pump is the only
// goroutine writing to the socket after the greeting.
type client struct {
	id      string
	conn    *websocket.Conn
	packets *bus.Subscriber
	status  *bus.Subscriber
	control chan serverMessage
	done    chan struct{}
	manager *Manager

	filterMu sync.RWMutex
	filter   Filter
}

func (c *client) writeMessage(msg serverMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// writePump serializes all outbound traffic. Control replies (pong,
// filter_ack) win over queued records so an interactive client stays
// responsive under load.
func (c *client) writePump() {
	defer c.manager.unregister(c)

	for {
		select {
		case msg := <-c.control:
			if c.writeMessage(msg) != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			return
		case msg := <-c.control:
			if c.writeMessage(msg) != nil {
				return
			}
		case event, ok := <-c.packets.Events():
			if !ok {
				return
			}
			rec, isRecord := event.Payload.(*packet.Record)
			if !isRecord {
				continue
			}
			if c.writeMessage(serverMessage{Type: KindNetworkLog, Data: rec}) != nil {
				return
			}
		case event, ok := <-c.status.Events():
			if !ok {
				return
			}
			if c.writeMessage(serverMessage{Type: KindSystemStatus, Data: event.Payload}) != nil {
				return
			}
		}
	}
}

// readPump handles inbound client messages until the socket dies.
func (c *client) readPump() {
	defer c.manager.unregister(c)
	c.conn.SetReadLimit(maxFrameSize)

	for {
		var msg map[string]interface{}
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		kind, _ := msg["type"].(string)
		switch kind {
		case kindPing:
			c.enqueue(serverMessage{Type: KindPong, Timestamp: msg["timestamp"]})
		case kindFilter:
			c.handleFilter(msg["filters"])
		default:
			log.GetLogger().Debugf("client %s sent unknown message type %q", c.id, kind)
		}
	}
}

// handleFilter records the client's declared filter and acknowledges it.
// Filters are not applied to delivery yet; the stored value is the
// groundwork for server-side filtering.
func (c *client) handleFilter(raw interface{}) {
	var filter Filter
	if err := mapstructure.Decode(raw, &filter); err != nil {
		log.GetLogger().Warnf("client %s sent malformed filter: %v", c.id, err)
		return
	}

	c.filterMu.Lock()
	c.filter = filter
	c.filterMu.Unlock()

	c.enqueue(serverMessage{
		Type:      KindFilterAck,
		Message:   "filter settings received",
		Filters:   &filter,
		Timestamp: time.Now().UTC(),
	})
}

// enqueue hands a control message to the write pump without blocking the
// read pump. A client that cannot keep up with its own replies is dropped.
func (c *client) enqueue(msg serverMessage) {
	select {
	case c.control <- msg:
	case <-c.done:
	default:
		log.GetLogger().Warnf("client %s control queue full, disconnecting", c.id)
		c.manager.unregister(c)
	}
}
