package devserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Command is the message sent to live reload clients
type Command struct {
	Command string `json:"command"`
}

const (
	// CommandReload asks the client to reload the whole page
	CommandReload = "reload"
	// CommandCSS asks the client to refetch its stylesheets
	CommandCSS = "css"

	writeTimeout = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan Command
}

type hub struct {
	lock    sync.Mutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.clients)
}

func (h *hub) broadcast(cmd Command) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		select {
		case c.send <- cmd:
		default:
			// the client is too slow; it'll get the next message
		}
	}
}

func (h *hub) remove(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// serve registers the connection and blocks until the client disconnects
func (h *hub) serve(conn *websocket.Conn, logger *zerolog.Logger) {
	c := &client{conn: conn, send: make(chan Command, 4)}

	h.lock.Lock()
	h.clients[c] = true
	h.lock.Unlock()

	go func() {
		defer conn.Close()

		for cmd := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteJSON(cmd)
			if err != nil {
				logger.Debug().Err(err).Msg("Failed to send live reload command")
				return
			}
		}

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
	}()

	// The client never sends anything but we have to read to process control frames.
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}

	h.remove(c)
}
