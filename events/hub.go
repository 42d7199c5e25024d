package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType defines the type of event
type EventType string

const (
	TypeQuote    EventType = "quote"
	TypeTrade    EventType = "trade"
	TypeDecision EventType = "decision"
	TypeEngine   EventType = "engine"
	TypeLog      EventType = "log"
	TypeSys      EventType = "sys"
)

// Event is the JSON envelope broadcast to SSE and WS clients.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Ts   int64       `json:"ts"`
}

// New builds an event stamped with the current time.
func New(typ EventType, data interface{}) Event {
	return Event{Type: typ, Data: data, Ts: time.Now().UnixMilli()}
}

// Hub maintains the set of active clients and broadcasts messages to the clients.
type Hub struct {
	// Registered clients.
	clients map[chan []byte]bool

	// Inbound messages to fan out.
	broadcast chan []byte

	// Register requests from the clients.
	register chan chan []byte

	// Unregister requests from clients.
	unregister chan chan []byte

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		clients:    make(map[chan []byte]bool),
		done:       make(chan struct{}),
	}
}

// Run owns the client set. Register, unregister and broadcast are serialized
// here so no lock is needed around the map.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Debug().Int("clients", len(h.clients)).Msg("[events] client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			log.Debug().Int("clients", len(h.clients)).Msg("[events] client unregistered")

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Slow client, drop it rather than stall the hub.
					close(client)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Stop disconnects all clients and ends Run.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(evt Event) {
	bytes, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("type", string(evt.Type)).Msg("[events] marshal failed")
		return
	}
	select {
	case h.broadcast <- bytes:
	case <-h.done:
	}
}

// Publish is shorthand for Broadcast(New(typ, data)).
func (h *Hub) Publish(typ EventType, data interface{}) {
	h.Broadcast(New(typ, data))
}

// Subscribe registers a raw message channel.
func (h *Hub) Subscribe() chan []byte {
	client := make(chan []byte, 256)
	select {
	case h.register <- client:
	case <-h.done:
		close(client)
	}
	return client
}

func (h *Hub) Unsubscribe(client chan []byte) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ServeHTTP handles SSE connections.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := h.Subscribe()
	defer h.Unsubscribe(client)

	// Initial hello so the client knows the stream is live.
	fmt.Fprintf(w, "data: %s\n\n", `{"type":"sys","data":"connected"}`)
	flusher.Flush()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	notify := r.Context().Done()

	for {
		select {
		case <-notify:
			return
		case <-ping.C:
			// Comment line keeps proxies from timing out the stream.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
