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
	"bytes"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var addrPortComparer = cmp.Comparer(func(a, b netip.AddrPort) bool {
	return a == b
})

func TestSnapshotSerialization(t *testing.T) {
	v4 := newTestPeer(1, 0, EventCompleted, 1700000000)
	v4.Completed = true
	v4.Uploaded = 100
	v4.Downloaded = 1000

	v6 := newTestPeer(2, 512, EventStarted, 1700000100)
	v6.Addr = netip.MustParseAddrPort("[2001:db8::2]:51413")

	hash, _ := InfoHashFromRawString("12345678901234567890")
	empty, _ := InfoHashFromRawString("abcdefghijabcdefghij")

	snapshot := Snapshot{
		hash:  &SwarmSnapshot{Completed: 7, Peers: []Peer{v4, v6}},
		empty: &SwarmSnapshot{Completed: 3, Peers: []Peer{}},
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snapshot); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	loaded, err := LoadSnapshot(&buf)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if diff := cmp.Diff(snapshot, loaded, addrPortComparer); diff != "" {
		t.Fatalf("Snapshot after serialization and deserialization does not match (-want +got):\n%s", diff)
	}
}

func TestSnapshotUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteSerializeHeader(&buf, 0, SwarmCacheVersion+1); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if _, err := LoadSnapshot(&buf); err != errUnsupportedVersion {
		t.Fatalf("Expected %v, got %v", errUnsupportedVersion, err)
	}
}

func TestSnapshotTruncated(t *testing.T) {
	hash, _ := InfoHashFromRawString("12345678901234567890")
	snapshot := Snapshot{hash: &SwarmSnapshot{Peers: []Peer{newTestPeer(1, 0, EventNone, 1)}}}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snapshot); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])

	if _, err := LoadSnapshot(truncated); err == nil {
		t.Fatalf("Expected truncated snapshot to fail loading")
	}
}
