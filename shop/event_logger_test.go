package shop

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEventLogger_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewEventLogger(&buf)
	l.LogEvent(Event{
		Domain:  "order",
		Subject: "ORD-lz3k1a-0123456789",
		Type:    "OrderCompleted",
		At:      time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Fields:  []Field{F("total", "CHF 28.00"), F("method", "wallet")},
	})

	out := buf.String()
	for _, want := range []string{"[ORDER]", "OrderCompleted", "15:04:05", "CHF 28.00", "method:", "ORD-lz3k1a-01234..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEventLogger_NilIsSilent(t *testing.T) {
	var l *EventLogger
	l.LogEvent(Event{Domain: "cart", Type: "LineAdded"})
}

func TestEventColor(t *testing.T) {
	if EventColor("OrderCompleted") != Cyan {
		t.Error("completed events are cyan")
	}
	if EventColor("PaymentFailed") != Red {
		t.Error("failed events are red")
	}
	if EventColor("Unknown") != "" {
		t.Error("unknown events are uncolored")
	}
}
