package transport

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	applog "pulse/internal/log"

	"github.com/gorilla/websocket"
)

const (
	DefaultWebSocketPath = "/pulse"
	writeWait            = time.Second
	maxCommandSize       = 4096
)

// WebSocketTransport broadcasts frames as JSON to every connected client
// and forwards JSON commands from clients to a CommandHandler.
//
// Frames are queued without blocking; when the queue is full, or when Send is
// called sooner than minInterval after the previous frame, the frame is
// dropped.
type WebSocketTransport struct {
	addr        string
	path        string
	minInterval time.Duration

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	wg        sync.WaitGroup

	mu       sync.Mutex // guards lastSend, closed, server, listener, onCommand
	lastSend time.Time
	closed   bool
	server   *http.Server
	listener net.Listener

	onCommand CommandHandler
}

// NewWebSocketTransport creates a transport serving path on addr. The
// broadcast loop starts immediately; call Start to listen, or mount Handler
// on an existing server.
func NewWebSocketTransport(addr, path string, minInterval time.Duration) *WebSocketTransport {
	if path == "" {
		path = DefaultWebSocketPath
	}
	wst := &WebSocketTransport{
		addr:        addr,
		path:        path,
		minInterval: minInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // overlay pages are served from file:// and other origins
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 64),
		done:      make(chan struct{}),
	}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// OnCommand registers the handler for client commands.
func (wst *WebSocketTransport) OnCommand(h CommandHandler) {
	wst.mu.Lock()
	wst.onCommand = h
	wst.mu.Unlock()
}

// Handler returns the HTTP handler upgrading requests on the transport path.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wst.path, wst.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
func (wst *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return err
	}

	wst.mu.Lock()
	wst.listener = ln
	wst.server = &http.Server{
		Handler:           wst.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := wst.server
	wst.mu.Unlock()

	go func() {
		applog.Infof("WebSocketTransport: Starting WebSocket server on %s%s", ln.Addr(), wst.path)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (wst *WebSocketTransport) Addr() string {
	wst.mu.Lock()
	defer wst.mu.Unlock()
	if wst.listener == nil {
		return wst.addr
	}
	return wst.listener.Addr().String()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxCommandSize)

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client connected, total: %d", total)

	go wst.readCommands(conn)
}

// readCommands runs until the client disconnects.
func (wst *WebSocketTransport) readCommands(conn *websocket.Conn) {
	defer wst.drop(conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				applog.Debugf("WebSocketTransport: Read error: %v", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			applog.Warnf("WebSocketTransport: Ignoring malformed command: %v", err)
			continue
		}

		wst.mu.Lock()
		handler := wst.onCommand
		wst.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := handler(cmd); err != nil {
			applog.Warnf("WebSocketTransport: Rejected %q command: %v", cmd.Type, err)
		}
	}
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	conn.Close()
	if ok {
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued frames to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(data); err != nil {
					applog.Debugf("WebSocketTransport: Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast.
func (wst *WebSocketTransport) Send(data any) error {
	wst.mu.Lock()
	if wst.closed {
		wst.mu.Unlock()
		return ErrClosed
	}
	now := time.Now()
	if wst.minInterval > 0 && now.Sub(wst.lastSend) < wst.minInterval {
		wst.mu.Unlock()
		return nil
	}
	wst.lastSend = now
	wst.mu.Unlock()

	select {
	case wst.broadcast <- data:
	default:
		// Queue full, drop the frame.
	}
	return nil
}

// Close disconnects all clients and shuts down the server.
func (wst *WebSocketTransport) Close() error {
	wst.mu.Lock()
	if wst.closed {
		wst.mu.Unlock()
		return nil
	}
	wst.closed = true
	server := wst.server
	wst.mu.Unlock()

	applog.Infof("WebSocketTransport: Closing server")
	close(wst.done)
	wst.wg.Wait()

	wst.clientsMu.Lock()
	for client := range wst.clients {
		client.Close()
	}
	wst.clients = make(map[*websocket.Conn]bool)
	wst.clientsMu.Unlock()

	if server != nil {
		return server.Close()
	}
	return nil
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
