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
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"net/netip"
)

// PeerID Sent in tracker requests with client information
// https://www.bittorrent.org/beps/bep_0020.html
type PeerID [20]byte

var errWrongPeerIDSize = errors.New("wrong peer id size")

func PeerIDFromRawString(buf string) (id PeerID, ok bool) {
	if len(buf) != len(id) {
		return id, false
	}

	copy(id[:], buf)

	return id, true
}

//goland:noinspection GoMixedReceiverTypes
func (id PeerID) MarshalText() ([]byte, error) {
	var buf [len(id) * 2]byte

	hex.Encode(buf[:], id[:])

	return buf[:], nil
}

//goland:noinspection GoMixedReceiverTypes
func (id *PeerID) UnmarshalText(b []byte) error {
	if len(b) != len(id)*2 {
		return errWrongPeerIDSize
	}

	_, err := hex.Decode(id[:], b)

	return err
}

// Event is the announce event, numbered as on the UDP wire
type Event uint8

const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

var eventNames = [...]string{"", "completed", "started", "stopped"}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}

	return "unknown"
}

// Valid reports whether e is one of the four defined events
func (e Event) Valid() bool {
	return e <= EventStopped
}

// ParseEvent maps the HTTP "event" query value, empty meaning EventNone
func ParseEvent(s string) (Event, bool) {
	for i, name := range eventNames {
		if name == s {
			return Event(i), true
		}
	}

	return EventNone, false
}

type Peer struct {
	ID   PeerID
	Addr netip.AddrPort

	Uploaded   uint64
	Downloaded uint64
	Left       uint64

	Event Event

	// Completed is set once the peer has been counted in its swarm's completed total
	Completed bool

	LastAnnounce int64 // unix time
}

func (p *Peer) Seeding() bool {
	return p.Left == 0
}

func (p *Peer) Load(reader readerAndByteReader) (err error) {
	if _, err = io.ReadFull(reader, p.ID[:]); err != nil {
		return err
	}

	var varIntLen uint64

	if varIntLen, err = binary.ReadUvarint(reader); err != nil {
		return err
	}

	if varIntLen != 4 && varIntLen != 16 {
		return errUnsupportedAddrBytes
	}

	var (
		buf  [16]byte
		port uint16
	)

	if _, err = io.ReadFull(reader, buf[:varIntLen]); err != nil {
		return err
	}

	if err = binary.Read(reader, binary.LittleEndian, &port); err != nil {
		return err
	}

	addr, _ := netip.AddrFromSlice(buf[:varIntLen])
	p.Addr = netip.AddrPortFrom(addr, port)

	if err = binary.Read(reader, binary.LittleEndian, &p.Uploaded); err != nil {
		return err
	}

	if err = binary.Read(reader, binary.LittleEndian, &p.Downloaded); err != nil {
		return err
	}

	if err = binary.Read(reader, binary.LittleEndian, &p.Left); err != nil {
		return err
	}

	if err = binary.Read(reader, binary.LittleEndian, &p.Event); err != nil {
		return err
	}

	if !p.Event.Valid() {
		return errUnsupportedEvent
	}

	if err = binary.Read(reader, binary.LittleEndian, &p.Completed); err != nil {
		return err
	}

	return binary.Read(reader, binary.LittleEndian, &p.LastAnnounce)
}

func (p *Peer) Append(preAllocatedBuffer []byte) (buf []byte) {
	buf = preAllocatedBuffer
	buf = append(buf, p.ID[:]...)

	addr := p.Addr.Addr().AsSlice()
	buf = binary.AppendUvarint(buf, uint64(len(addr)))
	buf = append(buf, addr...)

	buf = binary.LittleEndian.AppendUint16(buf, p.Addr.Port())
	buf = binary.LittleEndian.AppendUint64(buf, p.Uploaded)
	buf = binary.LittleEndian.AppendUint64(buf, p.Downloaded)
	buf = binary.LittleEndian.AppendUint64(buf, p.Left)
	buf = append(buf, byte(p.Event))

	if p.Completed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return binary.LittleEndian.AppendUint64(buf, uint64(p.LastAnnounce))
}

// AppendCompact writes the BEP 23 / BEP 15 packed form: 4 or 16 address bytes followed by the port
func AppendCompact(buf []byte, addr netip.AddrPort) []byte {
	buf = append(buf, addr.Addr().AsSlice()...)

	return binary.BigEndian.AppendUint16(buf, addr.Port())
}
