package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleBucketAfter is how long an idle DID keeps its bucket.
	staleBucketAfter = 3 * time.Minute
	// pruneThreshold is the map size at which stale buckets are swept.
	pruneThreshold = 1024
)

// SubmissionLimiter applies token-bucket friction per submitting DID.
// Sybil identities are cheap to mint, so the cost is attached to each
// signing participant rather than to any transport-level address. The
// limiter owns no timers; stale buckets are swept inline when the map
// grows past the threshold.
type SubmissionLimiter struct {
	mu      sync.Mutex
	buckets map[string]*didBucket
	rps     rate.Limit
	burst   int
	stale   time.Duration
	clock   func() time.Time
}

type didBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSubmissionLimiter builds a limiter allowing rps sustained
// submissions per DID with the given burst.
func NewSubmissionLimiter(rps float64, burst int) *SubmissionLimiter {
	return &SubmissionLimiter{
		buckets: make(map[string]*didBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		stale:   staleBucketAfter,
		clock:   time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (l *SubmissionLimiter) WithClock(clock func() time.Time) *SubmissionLimiter {
	l.clock = clock
	return l
}

// Allow charges one token from the DID's bucket.
func (l *SubmissionLimiter) Allow(did string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	return l.bucketFor(did, now).AllowN(now, 1)
}

// AllowAll charges one token per DID, all or nothing: if any bucket is
// exhausted, tokens already reserved are returned and no DID pays.
func (l *SubmissionLimiter) AllowAll(dids []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()

	taken := make([]*rate.Reservation, 0, len(dids))
	for _, did := range dids {
		r := l.bucketFor(did, now).ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range taken {
				prev.CancelAt(now)
			}
			return false
		}
		taken = append(taken, r)
	}
	return true
}

func (l *SubmissionLimiter) bucketFor(did string, now time.Time) *rate.Limiter {
	b, ok := l.buckets[did]
	if !ok {
		if len(l.buckets) >= pruneThreshold {
			l.prune(now)
		}
		b = &didBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[did] = b
	}
	b.lastSeen = now
	return b.limiter
}

// prune drops buckets idle past the stale horizon.
func (l *SubmissionLimiter) prune(now time.Time) {
	for did, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.stale {
			delete(l.buckets, did)
		}
	}
}
