package ptr

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// PtrManager handles PTR lookups with TTL based caching. Failed lookups are
// cached as empty names so an unresolvable peer is not retried on every
// connection.
type PtrManager struct {
	cache *ttlcache.Cache[string, string]

	lookupFunc func(ctx context.Context, addr string) ([]string, error)
	retries    int
	retryDelay time.Duration
}

// NewPtrManager creates a PtrManager keeping results for ttl
func NewPtrManager(ttl time.Duration) *PtrManager {
	return &PtrManager{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		lookupFunc: net.DefaultResolver.LookupAddr,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Start runs the expiry loop until Stop is called
func (pm *PtrManager) Start() {
	pm.cache.Start()
}

func (pm *PtrManager) Stop() {
	pm.cache.Stop()
}

// LookupPTR returns the name for ip, resolving it if it is not cached.
// The boolean is false when ip has no usable PTR record.
func (pm *PtrManager) LookupPTR(ctx context.Context, ip string) (string, bool) {
	if item := pm.cache.Get(ip); item != nil {
		name := item.Value()
		return name, name != ""
	}

	name := pm.resolve(ctx, ip)
	pm.cache.Set(ip, name, ttlcache.DefaultTTL)
	return name, name != ""
}

func (pm *PtrManager) resolve(ctx context.Context, ip string) string {
	for attempt := range pm.retries {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ""
			case <-time.After(pm.retryDelay):
			}
		}

		names, err := pm.lookupFunc(ctx, ip)
		if err == nil && len(names) > 0 {
			return normalizePTR(names[0])
		}
		var dnsErr *net.DNSError
		if ctx.Err() != nil || (errors.As(err, &dnsErr) && dnsErr.IsNotFound) {
			return ""
		}
	}
	return ""
}

// GetPTR retrieves the cached PTR result for the given IP address without
// resolving it
func (pm *PtrManager) GetPTR(ip string) (string, bool) {
	item := pm.cache.Get(ip)
	if item == nil || item.Value() == "" {
		return "", false
	}
	return item.Value(), true
}

// normalizePTR removes the trailing dot from a PTR name
func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
