/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package udp

import (
	"net/netip"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterTableSize = 65536
	limiterTTL       = 10 * time.Minute
)

// connectLimiter throttles connect requests per client IP. The table is bounded so that
// spoofed sources cannot grow it without limit.
type connectLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[netip.Addr, *rate.Limiter]
}

func newConnectLimiter(limit rate.Limit, burst int) *connectLimiter {
	if limit <= 0 || limit == rate.Inf {
		return nil
	}

	if burst < 1 {
		burst = 1
	}

	return &connectLimiter{
		limit:    limit,
		burst:    burst,
		limiters: expirable.NewLRU[netip.Addr, *rate.Limiter](limiterTableSize, nil, limiterTTL),
	}
}

// Allow reports whether a connect from addr at now is within the limit. A nil limiter allows everything.
func (l *connectLimiter) Allow(addr netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()

	limiter, ok := l.limiters.Get(addr)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(addr, limiter)
	}

	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}
