// Package coordination keeps two processes from crawling the same site at
// once, using a Redis key per site.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"realestate-scraper/utils"
)

const (
	// DefaultLeaseTTL is how long a lease survives without renewal.
	DefaultLeaseTTL = 2 * time.Minute

	keyPrefix = "realestate:crawl:"
)

var (
	// ErrLockHeld is returned when another process holds the site lock.
	ErrLockHeld = errors.New("site is being crawled by another process")

	// ErrLockNotHeld is returned when releasing or renewing a lease that expired
	// or was taken over.
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// SiteLocker hands out per-site leases.
type SiteLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *utils.Logger
}

// NewSiteLocker wraps client. A zero ttl means DefaultLeaseTTL.
func NewSiteLocker(client *redis.Client, ttl time.Duration, logger *utils.Logger) *SiteLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &SiteLocker{client: client, ttl: ttl, logger: logger}
}

// NewSiteLockerFromURL connects to a redis:// URL and checks it with PING.
func NewSiteLockerFromURL(ctx context.Context, url string, logger *utils.Logger) (*SiteLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewSiteLocker(client, 0, logger), nil
}

// Acquire takes the lease of site without waiting. The lease renews itself
// until Release is called.
func (s *SiteLocker) Acquire(ctx context.Context, site string) (*Lease, error) {
	key := keyPrefix + site
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	l := &Lease{
		locker: s,
		key:    key,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.keepAlive()
	s.logger.Debug("[coordination] Acquired %s", key)
	return l, nil
}

// Close closes the Redis client.
func (s *SiteLocker) Close() error {
	return s.client.Close()
}

// Lease is a held site lock.
type Lease struct {
	locker *SiteLocker
	key    string
	token  string

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Key returns the Redis key of the lease.
func (l *Lease) Key() string { return l.key }

func (l *Lease) keepAlive() {
	defer close(l.done)
	t := time.NewTicker(l.locker.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			if err := l.renew(context.Background()); err != nil {
				l.locker.logger.Warn("[coordination] Renewing %s: %v", l.key, err)
				if errors.Is(err, ErrLockNotHeld) {
					return
				}
			}
		}
	}
}

func (l *Lease) renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release stops renewal and deletes the key if this lease still owns it.
// Calling it again is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		var n int
		n, err = releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
		if err != nil {
			err = fmt.Errorf("failed to release lock: %w", err)
			return
		}
		if n == 0 {
			err = ErrLockNotHeld
			return
		}
		l.locker.logger.Debug("[coordination] Released %s", l.key)
	})
	return err
}
