package push

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the gateway
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the gateway
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum payload size accepted from the gateway
	maxPayloadSize = 64 * 1024

	reconnectDelay = 2 * time.Second
)

// Transport is the background messaging agent: a websocket connection to
// the push gateway that carries encrypted payloads down to the device. It
// reconnects on its own; readiness is signalled once the first connection
// is up.
type Transport struct {
	mu sync.Mutex

	gatewayURL string
	conn       *websocket.Conn

	ready    chan struct{}
	incoming chan []byte
	stopChan chan struct{}
	running  bool
}

// NewTransport creates a push transport for the given gateway URL
func NewTransport(gatewayURL string) *Transport {
	return &Transport{
		gatewayURL: gatewayURL,
		ready:      make(chan struct{}),
		incoming:   make(chan []byte, 32),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the background connect loop; safe to call more than once
func (t *Transport) Start() {
	t.mu.Lock()
	if t.running || t.gatewayURL == "" {
		t.mu.Unlock()
		return
	}
	t.running = true
	stop := t.stopChan
	t.mu.Unlock()

	go t.run(stop)
}

// Connect performs one immediate, synchronous connection attempt. This is
// the manual fallback when the background loop has not become ready within
// the caller's timeout.
func (t *Transport) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(t.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push gateway: %w", err)
	}
	t.adopt(conn)
	go t.readPump(conn)
	return nil
}

// Ready is closed once the transport has connected for the first time
// since the last Start
func (t *Transport) Ready() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Incoming delivers raw encrypted payloads from the gateway
func (t *Transport) Incoming() <-chan []byte {
	return t.incoming
}

// IsConnected reports whether a gateway connection is currently up
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Identify tells the gateway which endpoint this connection serves
func (t *Transport) Identify(endpoint string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("push transport not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(map[string]string{
		"type":     "listen",
		"endpoint": endpoint,
	})
}

// Close tears the transport down and resets it so a later Start can bring
// it back up, which happens on unsubscribe followed by re-subscribe
func (t *Transport) Close() {
	t.mu.Lock()
	if t.running {
		t.running = false
		close(t.stopChan)
	}
	if t.conn != nil {
		t.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
		t.conn.Close()
		t.conn = nil
	}
	t.stopChan = make(chan struct{})
	t.ready = make(chan struct{})
	t.mu.Unlock()
}

func (t *Transport) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.gatewayURL, nil)
		if err != nil {
			log.Printf("⚠️  Push gateway dial failed: %v", err)
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-stop:
				return
			}
		}

		t.adopt(conn)
		log.Println("📡 Push transport connected")
		t.readPump(conn) // blocks until the connection drops

		select {
		case <-stop:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (t *Transport) adopt(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	select {
	case <-t.ready:
	default:
		close(t.ready)
	}
	t.mu.Unlock()
}

// readPump reads payloads until the connection drops, answering pings along
// the way
func (t *Transport) readPump(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(maxPayloadSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️  Push transport read error: %v", err)
			}
			return
		}

		select {
		case t.incoming <- payload:
		default:
			log.Println("⚠️  Push payload dropped: delivery buffer full")
		}
	}
}
