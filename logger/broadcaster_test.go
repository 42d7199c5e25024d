package logger

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDecodeZerologEvent(t *testing.T) {
	line := []byte(`{"level":"info","time":1704067200,"message":"[trader] trade opened"}` + "\n")
	msg := decode("info", line)

	if msg.Message != "[trader] trade opened" {
		t.Errorf("Message = %q, want %q", msg.Message, "[trader] trade opened")
	}
	if msg.Level != "info" {
		t.Errorf("Level = %q, want info", msg.Level)
	}
	if got := msg.Timestamp.Unix(); got != 1704067200 {
		t.Errorf("Timestamp = %d, want 1704067200", got)
	}
}

func TestDecodeNonJSONLineKeptVerbatim(t *testing.T) {
	msg := decode("", []byte("plain text line\n"))
	if msg.Message != "plain text line" {
		t.Errorf("Message = %q, want the raw line without newline", msg.Message)
	}
	if time.Since(msg.Timestamp) > time.Minute {
		t.Errorf("Timestamp not stamped with now: %v", msg.Timestamp)
	}
}

func TestBroadcasterRingEvictsOldest(t *testing.T) {
	b := &Broadcaster{clients: make(map[chan LogMessage]bool)}
	for i := 0; i < historySize+5; i++ {
		b.push(LogMessage{Message: "line", Timestamp: time.Unix(int64(i), 0)})
	}

	hist := b.History()
	if len(hist) != historySize {
		t.Fatalf("len(History()) = %d, want %d", len(hist), historySize)
	}
	if got := hist[0].Timestamp.Unix(); got != 5 {
		t.Errorf("oldest kept event at t=%d, want 5", got)
	}
}

func TestBroadcasterSubscribeReplaysAndStreams(t *testing.T) {
	b := &Broadcaster{clients: make(map[chan LogMessage]bool)}
	b.push(LogMessage{Message: "before"})

	ch, hist := b.Subscribe()
	defer b.Unsubscribe(ch)

	if len(hist) != 1 || hist[0].Message != "before" {
		t.Fatalf("history = %+v, want the one buffered event", hist)
	}

	b.push(LogMessage{Message: "after"})
	select {
	case msg := <-ch:
		if msg.Message != "after" {
			t.Errorf("streamed message = %q, want after", msg.Message)
		}
	default:
		t.Fatal("no message streamed to subscriber")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := &Broadcaster{clients: make(map[chan LogMessage]bool)}
	ch, _ := b.Subscribe()
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	// Second unsubscribe must not panic on the closed channel.
	b.Unsubscribe(ch)
}

func TestWriteLevelCarriesLevel(t *testing.T) {
	b := &Broadcaster{clients: make(map[chan LogMessage]bool)}
	if _, err := b.WriteLevel(zerolog.WarnLevel, []byte(`{"message":"careful"}`)); err != nil {
		t.Fatalf("WriteLevel() error = %v", err)
	}

	hist := b.History()
	if len(hist) != 1 {
		t.Fatalf("len(History()) = %d, want 1", len(hist))
	}
	if hist[0].Level != "warn" || hist[0].Message != "careful" {
		t.Errorf("event = %+v, want level warn message careful", hist[0])
	}
}

func TestToSSEFrame(t *testing.T) {
	m := LogMessage{Level: "info", Message: "hello"}
	frame := m.ToSSE()

	if !strings.HasPrefix(frame, "data: ") {
		t.Errorf("frame %q missing data: prefix", frame)
	}
	if !strings.HasSuffix(frame, "\n\n") {
		t.Errorf("frame %q missing double newline terminator", frame)
	}
	if !strings.Contains(frame, `"message":"hello"`) {
		t.Errorf("frame %q missing message payload", frame)
	}
}
