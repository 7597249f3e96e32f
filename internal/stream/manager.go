// Package stream serves live enriched records to WebSocket clients. Each
// client gets its own bus subscription, so a slow reader sheds its own load
// without affecting capture, persistence or other clients.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GeoAziz/netverse-engine/internal/bus"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/metrics"
)

// Application close codes sent when the handshake is rejected.
const (
	CloseMissingToken = 4001
	CloseInvalidToken = 4003
)

// StatusInterval is how often connected clients receive a status push.
const StatusInterval = 5 * time.Second

// CredentialValidator authorizes a client token. The transport only cares
// whether the token is acceptable, not what it is.
type CredentialValidator interface {
	Validate(ctx context.Context, token string) error
}

// StatusFunc supplies the payload for periodic status pushes.
type StatusFunc func() interface{}

// Manager upgrades HTTP requests and owns the set of live connections.
type Manager struct {
	bus       *bus.Bus
	validator CredentialValidator
	statusFn  StatusFunc
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewManager creates a Manager. statusFn may be nil, which disables the
// periodic status push.
func NewManager(b *bus.Bus, validator CredentialValidator, statusFn StatusFunc) *Manager {
	return &Manager{
		bus:       b,
		validator: validator,
		statusFn:  statusFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browsers connect from arbitrary dashboard origins; the token
			// check is the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and starts the client session. The token
// travels in the query string; a missing or rejected token closes the
// socket with an application close code after the upgrade so the client
// sees why it was refused.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.GetLogger().Warnf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		rejectConn(conn, CloseMissingToken, "missing token")
		return
	}
	if err := m.validator.Validate(r.Context(), token); err != nil {
		log.GetLogger().Warnf("websocket auth from %s: %v", r.RemoteAddr, err)
		rejectConn(conn, CloseInvalidToken, "invalid token")
		return
	}

	c, err := m.register(conn)
	if err != nil {
		log.GetLogger().Errorf("register websocket client: %v", err)
		conn.Close()
		return
	}

	// The greeting goes out before the pumps start, while this goroutine is
	// still the only writer.
	greeting := serverMessage{
		Type:      KindConnection,
		Status:    "connected",
		Message:   "welcome to the netverse live stream",
		ClientID:  c.id,
		Timestamp: time.Now().UTC(),
	}
	if err := c.writeMessage(greeting); err != nil {
		m.unregister(c)
		return
	}

	log.GetLogger().Infof("websocket client %s connected from %s", c.id, r.RemoteAddr)
	go c.writePump()
	go c.readPump()
}

func (m *Manager) register(conn *websocket.Conn) (*client, error) {
	packets, err := m.bus.Subscribe(bus.TopicPackets)
	if err != nil {
		return nil, err
	}
	status, err := m.bus.Subscribe(bus.TopicStatus)
	if err != nil {
		m.bus.Unsubscribe(packets)
		return nil, err
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		packets: packets,
		status:  status,
		control: make(chan serverMessage, 16),
		done:    make(chan struct{}),
		manager: m,
	}

	m.mu.Lock()
	m.clients[c.id] = c
	m.mu.Unlock()
	metrics.LiveClients.Inc()
	return c, nil
}

// unregister detaches the client from the bus and closes the socket. Safe
// to call from either pump; only the first call does the work.
func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	_, present := m.clients[c.id]
	delete(m.clients, c.id)
	m.mu.Unlock()
	if !present {
		return
	}

	close(c.done)
	m.bus.Unsubscribe(c.packets)
	m.bus.Unsubscribe(c.status)
	c.conn.Close()
	metrics.LiveClients.Dec()
	log.GetLogger().Infof("websocket client %s disconnected (dropped %d)", c.id, c.packets.Dropped())
}

// ClientCount reports the number of live connections.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Run publishes a status snapshot to the bus every StatusInterval until the
// context is cancelled. Each connection forwards it as a system_status
// message.
func (m *Manager) Run(ctx context.Context) {
	if m.statusFn == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := m.statusFn()
			if snap, ok := payload.(map[string]interface{}); ok {
				snap["active_connections"] = m.ClientCount()
			}
			m.bus.Publish(bus.TopicStatus, payload)
		}
	}
}

// CloseAll disconnects every client, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		m.unregister(c)
	}
}

func rejectConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, deadline)
	conn.Close()
}
