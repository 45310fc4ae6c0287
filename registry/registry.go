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

// Package registry holds the in-memory swarms of the tracker.
//
// Lock ordering is always registry before swarm. Announces hold the registry
// read lock for the whole swarm mutation so that a swarm cannot be dropped by
// cleanup while a peer is being added to it.
package registry

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"kuroneko/types"

	"github.com/benbjohnson/clock"
)

type Options struct {
	// RetainEmpty keeps swarms without peers so their completed count survives
	RetainEmpty bool
	Clock       clock.Clock
}

type Registry struct {
	swarms map[types.InfoHash]*types.Swarm
	mu     sync.RWMutex

	clock       clock.Clock
	retainEmpty bool

	handle     *Handle
	done       chan struct{}
	terminated atomic.Bool
}

// PeerUpdate is the announcing peer's reported state
type PeerUpdate struct {
	Addr netip.AddrPort

	Uploaded   uint64
	Downloaded uint64
	Left       uint64

	Event types.Event
}

type AnnounceResult struct {
	Peers []types.Peer

	Seeders   uint32
	Leechers  uint32
	Completed uint32
}

type ScrapeResult struct {
	InfoHash types.InfoHash

	Seeders   uint32
	Leechers  uint32
	Completed uint32
}

type CleanupResult struct {
	Peers  int
	Swarms int
}

type Stats struct {
	Swarms   int
	Seeders  int
	Leechers int
}

func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	r := &Registry{
		swarms:      make(map[types.InfoHash]*types.Swarm),
		clock:       opts.Clock,
		retainEmpty: opts.RetainEmpty,
		done:        make(chan struct{}),
	}

	r.handle = &Handle{done: r.done}
	r.handle.registry.Store(r)

	return r
}

// Announce records the peer in the swarm for infoHash and returns up to numWant other peers.
// A stopped event removes the peer instead and returns no peers.
func (r *Registry) Announce(infoHash types.InfoHash, peerID types.PeerID, update PeerUpdate,
	numWant int) (result AnnounceResult) {
	if update.Event == types.EventStopped {
		return r.stop(infoHash, peerID)
	}

	r.mu.RLock()

	swarm, exists := r.swarms[infoHash]
	if exists {
		defer r.mu.RUnlock()
	} else {
		r.mu.RUnlock()
		r.mu.Lock()
		defer r.mu.Unlock()

		if swarm, exists = r.swarms[infoHash]; !exists {
			swarm = types.NewSwarm()
			r.swarms[infoHash] = swarm
		}
	}

	swarm.Lock()
	defer swarm.Unlock()

	peer := swarm.Upsert(types.Peer{
		ID:           peerID,
		Addr:         update.Addr,
		Uploaded:     update.Uploaded,
		Downloaded:   update.Downloaded,
		Left:         update.Left,
		Event:        update.Event,
		LastAnnounce: r.clock.Now().Unix(),
	})

	result.Peers = selectPeers(swarm, peer, numWant)
	result.Seeders = swarm.SeedersLength.Load()
	result.Leechers = swarm.LeechersLength.Load()
	result.Completed = swarm.Completed.Load()

	return result
}

func (r *Registry) stop(infoHash types.InfoHash, peerID types.PeerID) (result AnnounceResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	swarm, exists := r.swarms[infoHash]
	if !exists {
		return result
	}

	swarm.Lock()
	defer swarm.Unlock()

	swarm.Remove(peerID)

	result.Seeders = swarm.SeedersLength.Load()
	result.Leechers = swarm.LeechersLength.Load()
	result.Completed = swarm.Completed.Load()

	return result
}

/*
 * selectPeers returns other peers of the caller's address family. Peers of the
 * opposite role come first: leechers are offered seeders and seeders are
 * offered leechers, then the remaining slots are filled from the caller's own
 * role. Map iteration order is the only source of randomness.
 */
func selectPeers(swarm *types.Swarm, caller *types.Peer, numWant int) []types.Peer {
	if numWant <= 0 || len(swarm.Peers) <= 1 {
		return nil
	}

	peers := make([]types.Peer, 0, min(numWant, len(swarm.Peers)-1))
	callerIs4 := caller.Addr.Addr().Is4()

	for _, oppositeRole := range [2]bool{true, false} {
		for id, p := range swarm.Peers {
			if id == caller.ID || p.Addr.Addr().Is4() != callerIs4 {
				continue
			}

			if (p.Seeding() != caller.Seeding()) != oppositeRole {
				continue
			}

			peers = append(peers, *p)

			if len(peers) >= numWant {
				return peers
			}
		}
	}

	return peers
}

// Scrape returns counters for every requested hash in request order. Unknown hashes report zeroes.
func (r *Registry) Scrape(infoHashes []types.InfoHash) []ScrapeResult {
	results := make([]ScrapeResult, len(infoHashes))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, infoHash := range infoHashes {
		results[i].InfoHash = infoHash

		if swarm, exists := r.swarms[infoHash]; exists {
			results[i].Seeders = swarm.SeedersLength.Load()
			results[i].Leechers = swarm.LeechersLength.Load()
			results[i].Completed = swarm.Completed.Load()
		}
	}

	return results
}

// Cleanup removes peers that have not announced within maxPeerAge and then drops empty swarms
func (r *Registry) Cleanup(maxPeerAge time.Duration) (result CleanupResult) {
	cutoff := r.clock.Now().Add(-maxPeerAge).Unix()

	r.mu.RLock()

	hashes := make([]types.InfoHash, 0, len(r.swarms))
	for infoHash := range r.swarms {
		hashes = append(hashes, infoHash)
	}

	r.mu.RUnlock()

	var empty []types.InfoHash

	for _, infoHash := range hashes {
		removed, isEmpty := r.cleanupSwarm(infoHash, cutoff)
		result.Peers += removed

		if isEmpty {
			empty = append(empty, infoHash)
		}
	}

	if len(empty) == 0 || r.retainEmpty {
		return result
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, infoHash := range empty {
		// swarm may have been repopulated since the first pass
		if swarm, exists := r.swarms[infoHash]; exists && swarm.Empty() {
			delete(r.swarms, infoHash)

			result.Swarms++
		}
	}

	return result
}

func (r *Registry) cleanupSwarm(infoHash types.InfoHash, cutoff int64) (removed int, isEmpty bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	swarm, exists := r.swarms[infoHash]
	if !exists {
		return 0, false
	}

	swarm.Lock()
	defer swarm.Unlock()

	removed = swarm.RemoveStale(cutoff)

	return removed, len(swarm.Peers) == 0
}

// Snapshot copies every swarm while holding the registry write lock
func (r *Registry) Snapshot() types.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(types.Snapshot, len(r.swarms))

	for infoHash, swarm := range r.swarms {
		swarm.RLock()

		s := &types.SwarmSnapshot{
			Completed: swarm.Completed.Load(),
			Peers:     make([]types.Peer, 0, len(swarm.Peers)),
		}

		for _, p := range swarm.Peers {
			s.Peers = append(s.Peers, *p)
		}

		swarm.RUnlock()

		snapshot[infoHash] = s
	}

	return snapshot
}

// Restore replaces the swarms named in snapshot. Swarms not present in snapshot are left alone.
func (r *Registry) Restore(snapshot types.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for infoHash, s := range snapshot {
		swarm := types.NewSwarm()
		swarm.Completed.Store(s.Completed)

		for i := range s.Peers {
			p := s.Peers[i]
			swarm.Peers[p.ID] = &p
		}

		swarm.Recount()

		r.swarms[infoHash] = swarm
	}
}

func (r *Registry) Stats() (stats Stats) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats.Swarms = len(r.swarms)

	for _, swarm := range r.swarms {
		stats.Seeders += int(swarm.SeedersLength.Load())
		stats.Leechers += int(swarm.LeechersLength.Load())
	}

	return stats
}

// Handle returns a non-owning reference for background workers
func (r *Registry) Handle() *Handle {
	return r.handle
}

// Done is closed once the registry has been terminated
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Terminate detaches all handles and wakes everything waiting on Done. Safe to call more than once.
func (r *Registry) Terminate() {
	if r.terminated.CompareAndSwap(false, true) {
		r.handle.registry.Store(nil)
		close(r.done)
	}
}

// Handle refers to a registry without keeping it usable after Terminate
type Handle struct {
	registry atomic.Pointer[Registry]
	done     <-chan struct{}
}

// Resolve returns the registry, or false once it has been terminated
func (h *Handle) Resolve() (*Registry, bool) {
	r := h.registry.Load()

	return r, r != nil
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}
