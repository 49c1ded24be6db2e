// Package notify is the dismissible-notification surface: errors and
// warnings are pushed once, fanned out to whoever is subscribed, and never
// crash or block anything else.
package notify

import (
	"sync"

	"github.com/apiweave/apiweave/pkg/idwrap"
)

type Severity int32

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "info"
}

type Notification struct {
	ID       idwrap.IDWrap
	Severity Severity
	Message  string
}

// Center fans notifications out to subscribed sessions. Slow subscribers
// drop messages rather than block the publisher.
type Center struct {
	mu      sync.Mutex
	chanMap map[idwrap.IDWrap]chan Notification
	history []Notification
}

const bufferSize = 16

func NewCenter() *Center {
	return &Center{
		chanMap: make(map[idwrap.IDWrap]chan Notification, 4),
	}
}

func (c *Center) Subscribe(sessionID idwrap.IDWrap) chan Notification {
	ch := make(chan Notification, bufferSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chanMap[sessionID] = ch
	return ch
}

func (c *Center) Unsubscribe(sessionID idwrap.IDWrap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chanMap[sessionID]; ok {
		close(ch)
		delete(c.chanMap, sessionID)
	}
}

func (c *Center) Push(severity Severity, message string) Notification {
	n := Notification{
		ID:       idwrap.NewNow(),
		Severity: severity,
		Message:  message,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, n)
	for _, ch := range c.chanMap {
		select {
		case ch <- n:
		default:
		}
	}
	return n
}

func (c *Center) Error(message string) Notification {
	return c.Push(SeverityError, message)
}

func (c *Center) Warning(message string) Notification {
	return c.Push(SeverityWarning, message)
}

// History returns every notification pushed so far; nothing silently
// disappears without having been recorded at least once.
func (c *Center) History() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.history))
	copy(out, c.history)
	return out
}
