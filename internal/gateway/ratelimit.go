package gateway

import (
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"
)

// Window is the fixed rate-limit window length.
const Window = 60 * time.Second

const shardCount = 64

// Decision is the outcome of a rate-limit check. It is filled in the same way
// whether or not the request is allowed.
type Decision struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
	ResetAt      time.Time
	Policy       string
	Rule         LimitRule
}

type counterKey struct {
	credentialID int64
	prefix       string
	windowStart  int64
}

type counter struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
}

// Limiter keeps fixed-window counters per (credential, rule prefix, window
// start). Counters live in process memory only.
//
// A client can send up to twice the hard limit across a window boundary:
// the tail of one window and the head of the next are counted separately.
type Limiter struct {
	defaultRule LimitRule
	grace       time.Duration
	shards      [shardCount]*shard
}

// NewLimiter creates a limiter. defaultPerMinute applies to credentials with no
// limit rules at all. grace is how long a counter outlives its window.
func NewLimiter(defaultPerMinute int, grace time.Duration) *Limiter {
	l := &Limiter{
		defaultRule: LimitRule{RoutePrefix: WildcardPrefix, PerMinute: defaultPerMinute},
		grace:       grace,
	}
	for i := range l.shards {
		l.shards[i] = &shard{counters: make(map[counterKey]*counter)}
	}
	return l
}

// SelectRule picks the rule governing path: the longest matching non-wildcard
// prefix, first one found on ties, else the wildcard rule.
func SelectRule(path string, rules []LimitRule) (LimitRule, bool) {
	var (
		best     LimitRule
		found    bool
		wildcard *LimitRule
	)
	for i := range rules {
		r := rules[i]
		if r.IsWildcard() {
			if wildcard == nil {
				wildcard = &rules[i]
			}
			continue
		}
		if r.RoutePrefix == "" || !r.Matches(path) {
			continue
		}
		if !found || len(r.RoutePrefix) > len(best.RoutePrefix) {
			best, found = r, true
		}
	}
	if found {
		return best, true
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return LimitRule{}, false
}

// Decide checks and, when allowed, consumes one request for credentialID on
// path. It returns ErrRouteNotAllowed when rules exist but none governs path.
func (l *Limiter) Decide(credentialID int64, path string, rules []LimitRule, now time.Time) (Decision, error) {
	rule := l.defaultRule
	if len(rules) > 0 {
		var ok bool
		if rule, ok = SelectRule(path, rules); !ok {
			return Decision{}, ErrRouteNotAllowed
		}
	}

	hard := rule.HardLimit()
	windowStart := now.Unix() - floorMod(now.Unix(), int64(Window/time.Second))
	resetAt := time.Unix(windowStart, 0).Add(Window)
	key := counterKey{credentialID: credentialID, prefix: rule.RoutePrefix, windowStart: windowStart}

	s := l.shardFor(key)
	s.mu.Lock()
	c, ok := s.counters[key]
	if !ok {
		c = &counter{resetAt: resetAt}
		s.counters[key] = c
		l.dropPrevious(s, key, now)
	}
	allowed := c.count+1 <= hard
	if allowed {
		c.count++
	}
	count := c.count
	s.mu.Unlock()

	return Decision{
		Allowed:      allowed,
		Limit:        hard,
		Remaining:    max(0, hard-count),
		ResetSeconds: int(math.Ceil(resetAt.Sub(now).Seconds())),
		ResetAt:      resetAt,
		Policy:       rule.Policy(),
		Rule:         rule,
	}, nil
}

// dropPrevious removes the counter of the preceding window for the same
// credential and prefix once its grace period is over. s must be locked.
func (l *Limiter) dropPrevious(s *shard, key counterKey, now time.Time) {
	key.windowStart -= int64(Window / time.Second)
	if prev, ok := s.counters[key]; ok && now.After(prev.resetAt.Add(l.grace)) {
		delete(s.counters, key)
	}
}

// Sweep removes counters whose window closed more than the grace period
// before now and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for k, c := range s.counters {
			if now.After(c.resetAt.Add(l.grace)) {
				delete(s.counters, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live counters.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}

func (l *Limiter) shardFor(key counterKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(key.credentialID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(key.prefix))
	return l.shards[h.Sum32()%shardCount]
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
