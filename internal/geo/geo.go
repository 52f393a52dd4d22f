// Package geo resolves visitor IP addresses to an approximate location.
// Lookups are best-effort: every failure degrades to Unknown and loopback
// addresses short-circuit to Local without touching a provider.
package geo

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
)

type Location struct {
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	ISP     string  `json:"isp"`
}

var (
	// Unknown is returned when a lookup fails for any reason.
	Unknown = Location{Country: "Unknown", City: "Unknown", ISP: "Unknown"}

	// Local is returned for loopback and empty addresses.
	Local = Location{Country: "Localhost", City: "Local", ISP: "Local"}
)

// Provider performs one uncached lookup.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// IsLocal reports whether ip refers to the local machine.
func IsLocal(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

type Options struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
	Logger    *zap.Logger
}

// Locator wraps a Provider with a timeout, a result cache and the fallback
// rules. A nil provider makes every non-local lookup return Unknown.
type Locator struct {
	provider Provider
	timeout  time.Duration
	cache    *ttlcache.Cache
	log      *zap.Logger
}

func NewLocator(provider Provider, opts Options) *Locator {
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	l := &Locator{
		provider: provider,
		timeout:  opts.Timeout,
		log:      opts.Logger,
	}
	if opts.CacheTTL > 0 {
		l.cache = ttlcache.NewCache()
		_ = l.cache.SetTTL(opts.CacheTTL)
		l.cache.SkipTTLExtensionOnHit(true)
		if opts.CacheSize > 0 {
			l.cache.SetCacheSizeLimit(opts.CacheSize)
		}
	}
	return l
}

// Lookup never fails; see the package comment for the fallback rules.
func (l *Locator) Lookup(ctx context.Context, ip string) Location {
	ip = strings.TrimSpace(ip)
	if IsLocal(ip) {
		return Local
	}
	if l.provider == nil {
		return Unknown
	}

	if l.cache != nil {
		if v, err := l.cache.Get(ip); err == nil {
			if loc, ok := v.(Location); ok {
				return loc
			}
		} else if !errors.Is(err, ttlcache.ErrNotFound) {
			l.log.Debug("geo cache read failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	loc, err := l.provider.Lookup(ctx, ip)
	if err != nil {
		l.log.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return Unknown
	}

	if l.cache != nil {
		_ = l.cache.Set(ip, loc)
	}
	return loc
}

// Close releases the cache's background goroutine and the provider, if it
// holds resources.
func (l *Locator) Close() error {
	var errs []error
	if l.cache != nil {
		errs = append(errs, l.cache.Close())
	}
	if c, ok := l.provider.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
