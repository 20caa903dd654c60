package network

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// HookType enumerates the lifecycle events external code can subscribe to.
type HookType uint8

const (
	Connected HookType = iota
	Disconnected
	Reconnect
	Shutdown
	Authentication
	AuthenticationAccepted
	AuthenticationFailed
)

var hookNames = [...]string{
	"CONNECTED",
	"DISCONNECTED",
	"RECONNECT",
	"SHUTDOWN",
	"AUTHENTICATION",
	"AUTHENTICATION_ACCEPTED",
	"AUTHENTICATION_FAILED",
}

func (t HookType) String() string {
	if int(t) >= len(hookNames) {
		return fmt.Sprintf("HookType(%d)", uint8(t))
	}
	return hookNames[t]
}

// HookFunc receives the connection an event is about. It's nil for events that
// don't concern a specific connection, like a server's SHUTDOWN or a client's
// failed connection attempt.
type HookFunc func(c *Connection)

// HookID identifies a registered hook so it can be unregistered later.
type HookID uint64

type hookEntry struct {
	id HookID
	fn HookFunc
}

type hookTable struct {
	mu     sync.Mutex
	nextID HookID
	hooks  map[HookType][]hookEntry
	log    logrus.FieldLogger
}

func newHookTable(log logrus.FieldLogger) *hookTable {
	return &hookTable{hooks: make(map[HookType][]hookEntry), log: log}
}

func (h *hookTable) register(t HookType, fn HookFunc) HookID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	h.hooks[t] = append(h.hooks[t], hookEntry{id: h.nextID, fn: fn})
	return h.nextID
}

func (h *hookTable) unregister(t HookType, id HookID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.hooks[t]
	for i, e := range entries {
		if e.id == id {
			// Copy rather than shift in place; a firing in progress may hold the old slice.
			updated := make([]hookEntry, 0, len(entries)-1)
			updated = append(updated, entries[:i]...)
			h.hooks[t] = append(updated, entries[i+1:]...)
			return true
		}
	}
	return false
}

func (h *hookTable) count(t HookType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks[t])
}

// fire runs every hook registered for t when fire was called, in registration
// order. A panicking hook is logged and the rest still run.
func (h *hookTable) fire(t HookType, c *Connection) {
	h.mu.Lock()
	snapshot := h.hooks[t]
	h.mu.Unlock()

	for _, e := range snapshot {
		h.call(t, e, c)
	}
}

func (h *hookTable) call(t HookType, e hookEntry, c *Connection) {
	defer func() {
		if err := recover(); err != nil {
			h.log.WithFields(logrus.Fields{"hook": t, "conn": c}).
				Errorf("hook panicked: %v\n%s", err, debug.Stack())
		}
	}()
	e.fn(c)
}
