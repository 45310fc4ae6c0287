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

package types

import (
	"sync"
	"sync/atomic"
)

// Swarm is the set of peers announcing a single info hash.
//
// Peers must only be accessed while holding the swarm lock. The counters are
// atomics so that stats can be read without it, but they are only written
// with the write lock held.
type Swarm struct {
	Peers map[PeerID]*Peer

	SeedersLength  atomic.Uint32
	LeechersLength atomic.Uint32
	Completed      atomic.Uint32

	mu sync.RWMutex
}

func NewSwarm() *Swarm {
	return &Swarm{Peers: make(map[PeerID]*Peer)}
}

func (s *Swarm) Lock() {
	s.mu.Lock()
}

func (s *Swarm) Unlock() {
	s.mu.Unlock()
}

func (s *Swarm) RLock() {
	s.mu.RLock()
}

func (s *Swarm) RUnlock() {
	s.mu.RUnlock()
}

func (s *Swarm) count(p *Peer, delta int32) {
	if p.Seeding() {
		s.SeedersLength.Add(uint32(delta))
	} else {
		s.LeechersLength.Add(uint32(delta))
	}
}

// Upsert inserts or replaces the peer with the same ID. The completed counter
// is bumped when the peer reports completed for the first time. Returns the
// stored peer. Caller must hold the write lock.
func (s *Swarm) Upsert(peer Peer) *Peer {
	existing, ok := s.Peers[peer.ID]
	if ok {
		s.count(existing, -1)
		peer.Completed = peer.Completed || existing.Completed
		*existing = peer
	} else {
		existing = &peer
		s.Peers[peer.ID] = existing
	}

	if existing.Event == EventCompleted && !existing.Completed {
		existing.Completed = true
		s.Completed.Add(1)
	}

	s.count(existing, 1)

	return existing
}

// Remove deletes a peer. Caller must hold the write lock.
func (s *Swarm) Remove(id PeerID) bool {
	existing, ok := s.Peers[id]
	if !ok {
		return false
	}

	s.count(existing, -1)
	delete(s.Peers, id)

	return true
}

// RemoveStale deletes every peer whose last announce is older than cutoff (unix seconds).
// Caller must hold the write lock.
func (s *Swarm) RemoveStale(cutoff int64) (removed int) {
	for id, peer := range s.Peers {
		if peer.LastAnnounce < cutoff {
			s.count(peer, -1)
			delete(s.Peers, id)

			removed++
		}
	}

	return removed
}

// Recount recomputes the seeder and leecher counters from the peer map. Caller must hold the write lock.
func (s *Swarm) Recount() {
	var seeders, leechers uint32

	for _, peer := range s.Peers {
		if peer.Seeding() {
			seeders++
		} else {
			leechers++
		}
	}

	s.SeedersLength.Store(seeders)
	s.LeechersLength.Store(leechers)
}

func (s *Swarm) Empty() bool {
	return s.SeedersLength.Load() == 0 && s.LeechersLength.Load() == 0
}
