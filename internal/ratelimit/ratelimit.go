package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/shop-image-collector/internal/models"
	"golang.org/x/time/rate"
)

// Limit describes a token bucket: Requests tokens are added every Per, up to Burst.
type Limit struct {
	Requests int
	Per      time.Duration
	Burst    int
}

func (l Limit) rate() rate.Limit {
	if l.Requests <= 0 || l.Per <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(l.Requests) / l.Per.Seconds())
}

func (l Limit) burst() int {
	if l.Burst < 1 {
		return 1
	}
	return l.Burst
}

// DefaultLimits keeps request rates low enough to stay clear of storefront
// bot detection.
var DefaultLimits = map[models.Platform]Limit{
	models.PlatformCoupang:    {Requests: 10, Per: time.Minute, Burst: 3},
	models.PlatformNaver:      {Requests: 20, Per: time.Minute, Burst: 5},
	models.PlatformElevenst:   {Requests: 20, Per: time.Minute, Burst: 5},
	models.PlatformGmarket:    {Requests: 20, Per: time.Minute, Burst: 5},
	models.PlatformAuction:    {Requests: 20, Per: time.Minute, Burst: 5},
	models.PlatformAliExpress: {Requests: 15, Per: time.Minute, Burst: 3},
	models.PlatformAmazon:     {Requests: 10, Per: time.Minute, Burst: 2},
	models.PlatformShopify:    {Requests: 40, Per: time.Minute, Burst: 10},
}

var DefaultLimit = Limit{Requests: 30, Per: time.Minute, Burst: 5}

// MinRPS is the slowest rate PerSecond represents exactly; slower rates are
// clamped to it.
const MinRPS = 0.001

// PerSecond converts a requests-per-second rate into a Limit. Whole
// per-minute rates keep the per-minute form; any other rate becomes one
// request per 1/rps so it is never rounded away.
func PerSecond(rps float64, burst int) Limit {
	if rps < MinRPS {
		rps = MinRPS
	}
	perMinute := rps * 60
	if n := math.Round(perMinute); n >= 1 && math.Abs(perMinute-n) < 1e-9 {
		return Limit{Requests: int(n), Per: time.Minute, Burst: burst}
	}
	return Limit{Requests: 1, Per: time.Duration(float64(time.Second) / rps), Burst: burst}
}

// PlatformLimiter holds one lazily created token bucket per platform. Buckets
// refill on acquisition, there is no background timer.
type PlatformLimiter struct {
	mu           sync.Mutex
	limits       map[models.Platform]Limit
	defaultLimit Limit
	buckets      map[models.Platform]*rate.Limiter
	logger       *slog.Logger
}

func New(limits map[models.Platform]Limit, defaultLimit Limit, logger *slog.Logger) *PlatformLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if limits == nil {
		limits = DefaultLimits
	}

	copied := make(map[models.Platform]Limit, len(limits))
	for p, l := range limits {
		copied[p] = l
	}

	return &PlatformLimiter{
		limits:       copied,
		defaultLimit: defaultLimit,
		buckets:      make(map[models.Platform]*rate.Limiter),
		logger:       logger.With("component", "ratelimit"),
	}
}

func (p *PlatformLimiter) bucket(platform models.Platform) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buckets[platform]; ok {
		return b
	}

	l, ok := p.limits[platform]
	if !ok {
		l = p.defaultLimit
	}
	b := rate.NewLimiter(l.rate(), l.burst())
	p.buckets[platform] = b
	return b
}

// Acquire blocks until one token is available for platform and consumes it.
// Only the calling goroutine waits; other platforms are unaffected.
func (p *PlatformLimiter) Acquire(ctx context.Context, platform models.Platform) error {
	b := p.bucket(platform)

	r := b.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limit for %s cannot be satisfied", platform)
	}

	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	p.logger.Debug("waiting for rate limit token", "platform", platform, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset drops the bucket of one platform so the next acquisition starts full.
func (p *PlatformLimiter) Reset(platform models.Platform) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.buckets, platform)
}

func (p *PlatformLimiter) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets = make(map[models.Platform]*rate.Limiter)
}

type BucketStats struct {
	Platform models.Platform `json:"platform"`
	Tokens   float64         `json:"tokens"`
	Burst    int             `json:"burst"`
}

// Stats reports the current token count of every bucket created so far.
func (p *PlatformLimiter) Stats() []BucketStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]BucketStats, 0, len(p.buckets))
	for platform, b := range p.buckets {
		stats = append(stats, BucketStats{
			Platform: platform,
			Tokens:   b.Tokens(),
			Burst:    b.Burst(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Platform < stats[j].Platform })
	return stats
}
