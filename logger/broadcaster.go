package logger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogMessage is one log event as served to API clients.
type LogMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

const historySize = 1000

// Broadcaster is a zerolog sink that keeps a ring of recent events and fans
// them out to subscribers, so the API can replay and stream the process log.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan LogMessage]bool
	ring    []LogMessage
}

var (
	broadcaster *Broadcaster
	once        sync.Once
)

func GetBroadcaster() *Broadcaster {
	once.Do(func() {
		broadcaster = &Broadcaster{
			clients: make(map[chan LogMessage]bool),
			ring:    make([]LogMessage, 0, historySize),
		}
	})
	return broadcaster
}

// WriteLevel receives each event straight from zerolog with its level.
func (b *Broadcaster) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	b.push(decode(level.String(), p))
	return len(p), nil
}

// Write keeps the plain io.Writer contract for non-leveled writes.
func (b *Broadcaster) Write(p []byte) (int, error) {
	return b.WriteLevel(zerolog.NoLevel, p)
}

// decode pulls the message and time out of one zerolog JSON event. A line
// that is not JSON is kept verbatim.
func decode(level string, p []byte) LogMessage {
	msg := LogMessage{
		Timestamp: time.Now(),
		Level:     level,
		Message:   strings.TrimRight(string(p), "\n"),
	}
	var evt struct {
		Time    json.Number `json:"time"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(p, &evt); err != nil {
		return msg
	}
	if evt.Message != "" {
		msg.Message = evt.Message
	}
	if sec, err := evt.Time.Int64(); err == nil && sec > 0 {
		msg.Timestamp = time.Unix(sec, 0)
	}
	return msg
}

func (b *Broadcaster) push(msg LogMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ring) >= historySize {
		b.ring = b.ring[1:]
	}
	b.ring = append(b.ring, msg)

	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			// A slow client loses the line; the logger never blocks.
		}
	}
}

// Subscribe registers a tail client and returns it with the current history.
func (b *Broadcaster) Subscribe() (chan LogMessage, []LogMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan LogMessage, 200)
	b.clients[ch] = true
	return ch, b.historyLocked()
}

func (b *Broadcaster) Unsubscribe(ch chan LogMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// History returns a copy of the buffered events.
func (b *Broadcaster) History() []LogMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.historyLocked()
}

func (b *Broadcaster) historyLocked() []LogMessage {
	out := make([]LogMessage, len(b.ring))
	copy(out, b.ring)
	return out
}

// ToSSE renders the event as one server-sent-events frame.
func (m LogMessage) ToSSE() string {
	data, _ := json.Marshal(m)
	return "data: " + string(data) + "\n\n"
}
