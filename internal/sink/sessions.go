package sink

import (
	"cmp"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

// SessionLog keeps finished sessions around for a while so they can be
// inspected on the status endpoint
type SessionLog struct {
	cache *ttlcache.Cache[uint64, shared.Session]
}

// NewSessionLog creates a log whose entries expire after ttl
func NewSessionLog(ttl time.Duration) *SessionLog {
	return &SessionLog{
		cache: ttlcache.New(
			ttlcache.WithTTL[uint64, shared.Session](ttl),
			ttlcache.WithDisableTouchOnHit[uint64, shared.Session](),
		),
	}
}

// Start runs the expiry loop and blocks until Stop is called
func (l *SessionLog) Start() {
	l.cache.Start()
}

// Stop ends the expiry loop
func (l *SessionLog) Stop() {
	l.cache.Stop()
}

// Add records a finished session
func (l *SessionLog) Add(s shared.Session) {
	l.cache.Set(s.ID, s, ttlcache.DefaultTTL)
}

// Get returns the session with the given ID if it has not expired
func (l *SessionLog) Get(id uint64) (shared.Session, bool) {
	item := l.cache.Get(id)
	if item == nil || item.IsExpired() {
		return shared.Session{}, false
	}
	return item.Value(), true
}

// Recent returns the sessions that have not expired yet, oldest first
func (l *SessionLog) Recent() []shared.Session {
	items := l.cache.Items()
	sessions := make([]shared.Session, 0, len(items))
	for _, item := range items {
		if item.IsExpired() {
			continue
		}
		sessions = append(sessions, item.Value())
	}
	slices.SortFunc(sessions, func(a, b shared.Session) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions
}

// Len returns the number of sessions held, including expired ones not yet evicted
func (l *SessionLog) Len() int {
	return l.cache.Len()
}
