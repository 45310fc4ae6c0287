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

package util

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func waitTick(t *testing.T, mock *clock.Mock, ticks <-chan struct{}) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		mock.Add(time.Second)

		select {
		case <-ticks:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("Ticker did not fire")
}

func TestContextTick(t *testing.T) {
	mock := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())

	ticks := make(chan struct{}, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ContextTick(ctx, mock, time.Second, func() {
			ticks <- struct{}{}
		})
	}()

	for i := 0; i < 3; i++ {
		waitTick(t, mock, ticks)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("ContextTick did not return after cancel")
	}
}
