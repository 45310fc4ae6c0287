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
	"testing"
	"time"

	"kuroneko/types"
)

func runJanitor(ctx context.Context, j *Janitor) <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		j.Run(ctx)
	}()

	return stopped
}

func TestJanitorExpiresPeers(t *testing.T) {
	r, mock := newTestRegistry(false)

	r.Announce(testHash, peerID(1), update(1, 100, types.EventStarted), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := runJanitor(ctx, NewJanitor(r.Handle(), mock, time.Minute, 5*time.Minute))

	deadline := time.Now().Add(5 * time.Second)

	for r.Stats().Swarms != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Janitor did not expire the peer")
		}

		mock.Add(time.Minute)
	}

	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Janitor did not stop after cancel")
	}
}

func TestJanitorStopsOnTerminate(t *testing.T) {
	r, mock := newTestRegistry(false)

	stopped := runJanitor(context.Background(), NewJanitor(r.Handle(), mock, time.Minute, time.Hour))

	r.Terminate()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Janitor did not stop after the registry was terminated")
	}
}
