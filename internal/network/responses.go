package network

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dcrodman/parley/internal/packets"
)

// unroutedID is carried by requests that were sent without a response handler.
// It's never handed out to a request that is waiting on a reply.
const unroutedID uint8 = 0

type pendingResponse struct {
	id      uint8
	handler packets.ResponseFunc
	// conn is the connection the request went out on. Only a reply arriving on it
	// settles the entry. Nil accepts a reply from any connection.
	conn *Connection
	// settled is set once the entry has been answered or released, so that its
	// removal from the cache isn't mistaken for an expiry.
	settled atomic.Bool
}

// responseTable holds the handlers of outstanding requests keyed by correlation id.
// Each instance owns its own table. Entries expire after the instance's response
// timeout so an unanswered request doesn't hold its id forever.
type responseTable struct {
	mu       sync.Mutex
	entries  *gocache.Cache
	next     uint8
	onExpire func(id uint8)
}

func newResponseTable(ttl time.Duration, onExpire func(id uint8)) *responseTable {
	expiration, cleanup := gocache.NoExpiration, time.Duration(0)
	if ttl > 0 {
		expiration, cleanup = ttl, ttl/2
		if cleanup < 10*time.Millisecond {
			cleanup = 10 * time.Millisecond
		}
	}

	t := &responseTable{entries: gocache.New(expiration, cleanup), onExpire: onExpire}
	t.entries.OnEvicted(t.evicted)
	return t
}

func responseKey(id uint8) string { return strconv.Itoa(int(id)) }

// register reserves the next free correlation id for handler on a request sent
// over conn. Ids still waiting on a reply are skipped, so an id is never reused
// while it's in flight.
func (t *responseTable) register(handler packets.ResponseFunc, conn *Connection) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < 255; i++ {
		t.next++
		if t.next == unroutedID {
			t.next++
		}
		entry := &pendingResponse{id: t.next, handler: handler, conn: conn}
		if err := t.entries.Add(responseKey(t.next), entry, gocache.DefaultExpiration); err == nil {
			return t.next, nil
		}
	}
	return 0, ErrTooManyInFlight
}

// resolve removes and returns the handler waiting on id for a reply received on
// from. Each handler is returned at most once. A reply from any other connection
// leaves the entry in place.
func (t *responseTable) resolve(id uint8, from *Connection) (packets.ResponseFunc, bool) {
	if id == unroutedID {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	v, found := t.entries.Get(responseKey(id))
	if !found {
		return nil, false
	}
	entry := v.(*pendingResponse)
	if entry.conn != nil && entry.conn != from {
		return nil, false
	}
	t.take(entry)
	return entry.handler, true
}

// take removes entry from the table. The caller holds mu.
func (t *responseTable) take(entry *pendingResponse) {
	entry.settled.Store(true)
	t.entries.Delete(responseKey(entry.id))
}

// release frees id without invoking its handler.
func (t *responseTable) release(id uint8) {
	if id == unroutedID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if v, found := t.entries.Get(responseKey(id)); found {
		t.take(v.(*pendingResponse))
	}
}

func (t *responseTable) evicted(_ string, v interface{}) {
	entry, ok := v.(*pendingResponse)
	if !ok || entry.settled.Swap(true) {
		return
	}
	if t.onExpire != nil {
		t.onExpire(entry.id)
	}
}

func (t *responseTable) inFlight() int {
	return t.entries.ItemCount()
}

// flush drops every outstanding request without reporting them as expired.
func (t *responseTable) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Flush()
}
