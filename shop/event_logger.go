package shop

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	Blue    = "\033[94m"
	Green   = "\033[92m"
	Yellow  = "\033[93m"
	Cyan    = "\033[96m"
	Magenta = "\033[95m"
	Red     = "\033[91m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Reset   = "\033[0m"
)

// Event is one cart or order lifecycle occurrence worth showing to an operator.
type Event struct {
	Domain  string
	Subject string
	Type    string
	At      time.Time
	Fields  []Field
}

// Field is a labelled detail line of an Event.
type Field struct {
	Key   string
	Value string
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: fmt.Sprint(value)}
}

// DomainColor returns the color for a domain.
func DomainColor(domain string) string {
	switch domain {
	case "cart":
		return Blue
	case "order":
		return Green
	case "payment":
		return Yellow
	case "sync":
		return Dim
	default:
		return Magenta
	}
}

// EventColor returns the color for an event type.
func EventColor(eventType string) string {
	switch {
	case strings.Contains(eventType, "Completed"), strings.Contains(eventType, "Confirmed"):
		return Cyan
	case strings.Contains(eventType, "Failed"), strings.Contains(eventType, "Cleared"):
		return Red
	case strings.Contains(eventType, "Added"), strings.Contains(eventType, "Redirected"):
		return Yellow
	case strings.Contains(eventType, "Submitted"), strings.Contains(eventType, "Created"):
		return Green
	default:
		return ""
	}
}

// EventLogger renders events in a boxed, colored layout.
type EventLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEventLogger writes pretty events to w.
func NewEventLogger(w io.Writer) *EventLogger {
	return &EventLogger{w: w}
}

// LogEvent logs a single event with pretty formatting.
func (l *EventLogger) LogEvent(ev Event) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	subject := ev.Subject
	if len(subject) > 16 {
		subject = subject[:16] + "..."
	}

	fmt.Fprintln(l.w)
	fmt.Fprintf(l.w, "%s%s%s\n", Bold, strings.Repeat("─", 60), Reset)
	fmt.Fprintf(l.w, "%s%s[%s]%s %s%s%s  %s%s%s\n",
		Bold, DomainColor(ev.Domain), strings.ToUpper(ev.Domain), Reset,
		Dim, ev.At.Format("15:04:05"), Reset,
		Cyan, subject, Reset)
	fmt.Fprintf(l.w, "%s%s%s%s\n", Bold, EventColor(ev.Type), ev.Type, Reset)
	fmt.Fprintln(l.w, strings.Repeat("─", 60))

	width := 0
	for _, f := range ev.Fields {
		if len(f.Key) > width {
			width = len(f.Key)
		}
	}
	for _, f := range ev.Fields {
		fmt.Fprintf(l.w, "  %s%-*s%s %s\n", Dim, width+1, f.Key+":", Reset, f.Value)
	}
}
