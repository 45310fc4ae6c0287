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

package registry

import (
	"context"
	"log/slog"
	"time"

	"kuroneko/collector"
	"kuroneko/util"

	"github.com/benbjohnson/clock"
)

// Janitor periodically expires stale peers. It stops as soon as the registry is terminated.
type Janitor struct {
	handle *Handle
	clock  clock.Clock

	interval   time.Duration
	maxPeerAge time.Duration
}

func NewJanitor(handle *Handle, clk clock.Clock, interval, maxPeerAge time.Duration) *Janitor {
	if clk == nil {
		clk = clock.New()
	}

	return &Janitor{handle: handle, clock: clk, interval: interval, maxPeerAge: maxPeerAge}
}

// Run blocks until ctx is cancelled or the registry goes away
func (j *Janitor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-j.handle.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	util.ContextTick(ctx, j.clock, j.interval, func() {
		r, ok := j.handle.Resolve()
		if !ok {
			cancel()
			return
		}

		j.sweep(r)
	})
}

func (j *Janitor) sweep(r *Registry) {
	start := j.clock.Now()

	result := r.Cleanup(j.maxPeerAge)

	elapsedTime := j.clock.Since(start)
	collector.UpdatePurgeInactivePeersTime(elapsedTime)

	slog.Info("purged inactive peers from memory",
		"peers", result.Peers, "swarms", result.Swarms, "elapsed", elapsedTime)
}
