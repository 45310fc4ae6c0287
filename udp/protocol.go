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
	"encoding/binary"
	"errors"
	"net/netip"

	"kuroneko/types"
)

// Wire format of the UDP tracker protocol. All integers are big-endian.
// https://www.bittorrent.org/beps/bep_0015.html
const (
	ProtocolID uint64 = 0x41727101980

	// MaxPacketSize bounds the datagrams read from the socket
	MaxPacketSize = 2048
	// MaxScrapeHashes is the most info hashes answered per scrape, as recommended by BEP 15
	MaxScrapeHashes = 74

	headerSize          = 16 // connection_id:8 + action:4 + transaction_id:4
	infoHashSize        = 20
	announceRequestSize = 98 // header + info_hash:20 + peer_id:20 + 3*8 + 4*4 + port:2

	connectResponseSize        = 16 // action:4 + transaction_id:4 + connection_id:8
	announceResponseHeaderSize = 20 // action:4 + transaction_id:4 + interval:4 + leechers:4 + seeders:4
	scrapeResponseHeaderSize   = 8
	scrapeEntrySize            = 12 // seeders:4 + completed:4 + leechers:4
	errorResponseHeaderSize    = 8

	peerSizeV4 = 4 + 2
	peerSizeV6 = 16 + 2
)

type Action uint32

const (
	ActionConnect Action = iota
	ActionAnnounce
	ActionScrape
	ActionError
)

var (
	errPacketTooShort    = errors.New("packet too short")
	errMalformedPacket   = errors.New("malformed packet")
	errUnknownAction     = errors.New("unknown action")
	errUnexpectedAction  = errors.New("unexpected action")
	errInvalidProtocolID = errors.New("invalid protocol id")
)

// Request is one of ConnectRequest, AnnounceRequest or ScrapeRequest
type Request interface {
	Transaction() uint32
}

type ConnectRequest struct {
	TransactionID uint32
}

type ConnectResponse struct {
	TransactionID uint32
	ConnectionID  uint64
}

// AnnounceRequest keeps the byte counters signed so that negative values can be rejected
type AnnounceRequest struct {
	ConnectionID  uint64
	TransactionID uint32

	InfoHash types.InfoHash
	PeerID   types.PeerID

	Downloaded int64
	Left       int64
	Uploaded   int64

	Event   uint32
	IP      uint32
	Key     uint32
	NumWant int32
	Port    uint16
}

type AnnounceResponse struct {
	TransactionID uint32
	Interval      uint32
	Leechers      uint32
	Seeders       uint32

	// Peers must all be of the same address family
	Peers []netip.AddrPort
}

type ScrapeRequest struct {
	ConnectionID  uint64
	TransactionID uint32
	InfoHashes    []types.InfoHash
}

type ScrapeStats struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}

type ScrapeResponse struct {
	TransactionID uint32
	Stats         []ScrapeStats
}

type ErrorResponse struct {
	TransactionID uint32
	Message       string
}

func (r ConnectRequest) Transaction() uint32  { return r.TransactionID }
func (r AnnounceRequest) Transaction() uint32 { return r.TransactionID }
func (r ScrapeRequest) Transaction() uint32   { return r.TransactionID }

func appendHeader(buf []byte, first uint64, action Action, transactionID uint32) []byte {
	buf = binary.BigEndian.AppendUint64(buf, first)
	buf = binary.BigEndian.AppendUint32(buf, uint32(action))

	return binary.BigEndian.AppendUint32(buf, transactionID)
}

func appendResponseHeader(buf []byte, action Action, transactionID uint32) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(action))
	return binary.BigEndian.AppendUint32(buf, transactionID)
}

func checkAction(b []byte, offset int, expected Action) error {
	if Action(binary.BigEndian.Uint32(b[offset:])) != expected {
		return errUnexpectedAction
	}

	return nil
}

func (r ConnectRequest) Append(buf []byte) []byte {
	return appendHeader(buf, ProtocolID, ActionConnect, r.TransactionID)
}

func DecodeConnectRequest(b []byte) (r ConnectRequest, err error) {
	if len(b) < headerSize {
		return r, errPacketTooShort
	}

	if err = checkAction(b, 8, ActionConnect); err != nil {
		return r, err
	}

	if binary.BigEndian.Uint64(b) != ProtocolID {
		return r, errInvalidProtocolID
	}

	r.TransactionID = binary.BigEndian.Uint32(b[12:])

	return r, nil
}

func (r ConnectResponse) Append(buf []byte) []byte {
	buf = appendResponseHeader(buf, ActionConnect, r.TransactionID)
	return binary.BigEndian.AppendUint64(buf, r.ConnectionID)
}

func DecodeConnectResponse(b []byte) (r ConnectResponse, err error) {
	if len(b) != connectResponseSize {
		return r, errMalformedPacket
	}

	if err = checkAction(b, 0, ActionConnect); err != nil {
		return r, err
	}

	r.TransactionID = binary.BigEndian.Uint32(b[4:])
	r.ConnectionID = binary.BigEndian.Uint64(b[8:])

	return r, nil
}

func (r AnnounceRequest) Append(buf []byte) []byte {
	buf = appendHeader(buf, r.ConnectionID, ActionAnnounce, r.TransactionID)
	buf = append(buf, r.InfoHash[:]...)
	buf = append(buf, r.PeerID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Downloaded))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Left))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Uploaded))
	buf = binary.BigEndian.AppendUint32(buf, r.Event)
	buf = binary.BigEndian.AppendUint32(buf, r.IP)
	buf = binary.BigEndian.AppendUint32(buf, r.Key)
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.NumWant))

	return binary.BigEndian.AppendUint16(buf, r.Port)
}

// DecodeAnnounceRequest ignores anything past the fixed 98 bytes (BEP 41 options)
func DecodeAnnounceRequest(b []byte) (r AnnounceRequest, err error) {
	if len(b) < announceRequestSize {
		return r, errPacketTooShort
	}

	if err = checkAction(b, 8, ActionAnnounce); err != nil {
		return r, err
	}

	r.ConnectionID = binary.BigEndian.Uint64(b[0:8])
	r.TransactionID = binary.BigEndian.Uint32(b[12:16])
	copy(r.InfoHash[:], b[16:36])
	copy(r.PeerID[:], b[36:56])
	r.Downloaded = int64(binary.BigEndian.Uint64(b[56:64]))
	r.Left = int64(binary.BigEndian.Uint64(b[64:72]))
	r.Uploaded = int64(binary.BigEndian.Uint64(b[72:80]))
	r.Event = binary.BigEndian.Uint32(b[80:84])
	r.IP = binary.BigEndian.Uint32(b[84:88])
	r.Key = binary.BigEndian.Uint32(b[88:92])
	r.NumWant = int32(binary.BigEndian.Uint32(b[92:96]))
	r.Port = binary.BigEndian.Uint16(b[96:98])

	return r, nil
}

func (r AnnounceResponse) Append(buf []byte) []byte {
	buf = appendResponseHeader(buf, ActionAnnounce, r.TransactionID)
	buf = binary.BigEndian.AppendUint32(buf, r.Interval)
	buf = binary.BigEndian.AppendUint32(buf, r.Leechers)
	buf = binary.BigEndian.AppendUint32(buf, r.Seeders)

	for _, peer := range r.Peers {
		buf = types.AppendCompact(buf, peer)
	}

	return buf
}

// DecodeAnnounceResponse needs to know the family since the peer list carries no type information
func DecodeAnnounceResponse(b []byte, ipv6 bool) (r AnnounceResponse, err error) {
	peerSize := peerSizeV4
	if ipv6 {
		peerSize = peerSizeV6
	}

	if len(b) < announceResponseHeaderSize || (len(b)-announceResponseHeaderSize)%peerSize != 0 {
		return r, errMalformedPacket
	}

	if err = checkAction(b, 0, ActionAnnounce); err != nil {
		return r, err
	}

	r.TransactionID = binary.BigEndian.Uint32(b[4:])
	r.Interval = binary.BigEndian.Uint32(b[8:])
	r.Leechers = binary.BigEndian.Uint32(b[12:])
	r.Seeders = binary.BigEndian.Uint32(b[16:])

	for peers := b[announceResponseHeaderSize:]; len(peers) > 0; peers = peers[peerSize:] {
		addr, _ := netip.AddrFromSlice(peers[:peerSize-2])
		r.Peers = append(r.Peers, netip.AddrPortFrom(addr, binary.BigEndian.Uint16(peers[peerSize-2:])))
	}

	return r, nil
}

func (r ScrapeRequest) Append(buf []byte) []byte {
	buf = appendHeader(buf, r.ConnectionID, ActionScrape, r.TransactionID)

	for _, infoHash := range r.InfoHashes {
		buf = append(buf, infoHash[:]...)
	}

	return buf
}

func DecodeScrapeRequest(b []byte) (r ScrapeRequest, err error) {
	if len(b) < headerSize+infoHashSize {
		return r, errPacketTooShort
	}

	if (len(b)-headerSize)%infoHashSize != 0 {
		return r, errMalformedPacket
	}

	if err = checkAction(b, 8, ActionScrape); err != nil {
		return r, err
	}

	r.ConnectionID = binary.BigEndian.Uint64(b[0:8])
	r.TransactionID = binary.BigEndian.Uint32(b[12:16])
	r.InfoHashes = make([]types.InfoHash, (len(b)-headerSize)/infoHashSize)

	for i := range r.InfoHashes {
		copy(r.InfoHashes[i][:], b[headerSize+i*infoHashSize:])
	}

	return r, nil
}

func (r ScrapeResponse) Append(buf []byte) []byte {
	buf = appendResponseHeader(buf, ActionScrape, r.TransactionID)

	for _, stats := range r.Stats {
		buf = binary.BigEndian.AppendUint32(buf, stats.Seeders)
		buf = binary.BigEndian.AppendUint32(buf, stats.Completed)
		buf = binary.BigEndian.AppendUint32(buf, stats.Leechers)
	}

	return buf
}

func DecodeScrapeResponse(b []byte) (r ScrapeResponse, err error) {
	if len(b) < scrapeResponseHeaderSize || (len(b)-scrapeResponseHeaderSize)%scrapeEntrySize != 0 {
		return r, errMalformedPacket
	}

	if err = checkAction(b, 0, ActionScrape); err != nil {
		return r, err
	}

	r.TransactionID = binary.BigEndian.Uint32(b[4:])

	for entries := b[scrapeResponseHeaderSize:]; len(entries) > 0; entries = entries[scrapeEntrySize:] {
		r.Stats = append(r.Stats, ScrapeStats{
			Seeders:   binary.BigEndian.Uint32(entries[0:]),
			Completed: binary.BigEndian.Uint32(entries[4:]),
			Leechers:  binary.BigEndian.Uint32(entries[8:]),
		})
	}

	return r, nil
}

func (r ErrorResponse) Append(buf []byte) []byte {
	buf = appendResponseHeader(buf, ActionError, r.TransactionID)
	return append(buf, r.Message...)
}

func DecodeErrorResponse(b []byte) (r ErrorResponse, err error) {
	if len(b) < errorResponseHeaderSize {
		return r, errPacketTooShort
	}

	if err = checkAction(b, 0, ActionError); err != nil {
		return r, err
	}

	r.TransactionID = binary.BigEndian.Uint32(b[4:])
	r.Message = string(b[errorResponseHeaderSize:])

	return r, nil
}

// ParseRequest decodes a client datagram. Every error means the datagram should be dropped.
func ParseRequest(packet []byte) (Request, error) {
	if len(packet) < headerSize {
		return nil, errPacketTooShort
	}

	switch Action(binary.BigEndian.Uint32(packet[8:12])) {
	case ActionConnect:
		return DecodeConnectRequest(packet)
	case ActionAnnounce:
		return DecodeAnnounceRequest(packet)
	case ActionScrape:
		return DecodeScrapeRequest(packet)
	default:
		return nil, errUnknownAction
	}
}
