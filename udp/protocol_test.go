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
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"

	"kuroneko/types"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var addrPortComparer = cmp.Comparer(func(a, b netip.AddrPort) bool {
	return a == b
})

func TestConnectRequestLayout(t *testing.T) {
	expected := []byte{
		0x00, 0x00, 0x04, 0x17, 0x27, 0x10, 0x19, 0x80,
		0x00, 0x00, 0x00, 0x00,
		0xde, 0xad, 0xbe, 0xef,
	}

	if got := (ConnectRequest{TransactionID: 0xdeadbeef}).Append(nil); !bytes.Equal(expected, got) {
		t.Fatalf("Expected %x, got %x", expected, got)
	}
}

func TestAnnounceRequestLayout(t *testing.T) {
	r := AnnounceRequest{
		ConnectionID:  1,
		TransactionID: 2,
		Downloaded:    3,
		Left:          4,
		Uploaded:      5,
		Event:         uint32(types.EventStarted),
		NumWant:       -1,
		Port:          6881,
	}

	buf := r.Append(nil)
	if len(buf) != announceRequestSize {
		t.Fatalf("Expected %d bytes, got %d", announceRequestSize, len(buf))
	}

	if binary.BigEndian.Uint32(buf[8:12]) != uint32(ActionAnnounce) {
		t.Fatalf("Expected announce action at offset 8")
	}

	if binary.BigEndian.Uint64(buf[64:72]) != 4 || binary.BigEndian.Uint16(buf[96:98]) != 6881 {
		t.Fatalf("Unexpected field offsets in %x", buf)
	}

	if binary.BigEndian.Uint32(buf[92:96]) != 0xffffffff {
		t.Fatalf("Expected numwant -1 to be encoded as 0xffffffff")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	infoHash, _ := types.InfoHashFromRawString("aaaaaaaaaaaaaaaaaaaa")
	peerID, _ := types.PeerIDFromRawString("-TR2940-abcdefghijkl")

	testCases := []struct {
		name    string
		message interface{ Append([]byte) []byte }
		decode  func([]byte) (any, error)
	}{
		{
			"connect request",
			ConnectRequest{TransactionID: 7},
			func(b []byte) (any, error) { return DecodeConnectRequest(b) },
		},
		{
			"connect response",
			ConnectResponse{TransactionID: 7, ConnectionID: 0x0123456789abcdef},
			func(b []byte) (any, error) { return DecodeConnectResponse(b) },
		},
		{
			"announce request",
			AnnounceRequest{
				ConnectionID: 42, TransactionID: 7, InfoHash: infoHash, PeerID: peerID,
				Downloaded: 1 << 40, Left: 100, Uploaded: 12, Event: 1, IP: 0x7f000001, Key: 99,
				NumWant: 50, Port: 51413,
			},
			func(b []byte) (any, error) { return DecodeAnnounceRequest(b) },
		},
		{
			"announce response v4",
			AnnounceResponse{
				TransactionID: 7, Interval: 1800, Leechers: 2, Seeders: 1,
				Peers: []netip.AddrPort{
					netip.MustParseAddrPort("10.0.0.1:6881"),
					netip.MustParseAddrPort("192.0.2.200:65535"),
				},
			},
			func(b []byte) (any, error) { return DecodeAnnounceResponse(b, false) },
		},
		{
			"announce response v6",
			AnnounceResponse{
				TransactionID: 7, Interval: 1800,
				Peers:         []netip.AddrPort{netip.MustParseAddrPort("[2001:db8::1]:6881")},
			},
			func(b []byte) (any, error) { return DecodeAnnounceResponse(b, true) },
		},
		{
			"scrape request",
			ScrapeRequest{ConnectionID: 42, TransactionID: 7, InfoHashes: []types.InfoHash{infoHash, {1}}},
			func(b []byte) (any, error) { return DecodeScrapeRequest(b) },
		},
		{
			"scrape response",
			ScrapeResponse{TransactionID: 7, Stats: []ScrapeStats{{1, 2, 3}, {0, 0, 0}}},
			func(b []byte) (any, error) { return DecodeScrapeResponse(b) },
		},
		{
			"error response",
			ErrorResponse{TransactionID: 7, Message: "invalid connection id"},
			func(b []byte) (any, error) { return DecodeErrorResponse(b) },
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			decoded, err := testCase.decode(testCase.message.Append(nil))
			if err != nil {
				t.Fatalf("Unexpected error: %s", err)
			}

			if diff := cmp.Diff(testCase.message, decoded, addrPortComparer, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("Decoded message differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRequestErrors(t *testing.T) {
	announce := AnnounceRequest{ConnectionID: 1, Port: 1}.Append(nil)
	scrape := ScrapeRequest{ConnectionID: 1, InfoHashes: []types.InfoHash{{1}}}.Append(nil)

	wrongMagic := ConnectRequest{}.Append(nil)
	wrongMagic[0] = 0xff

	unknownAction := ConnectRequest{}.Append(nil)
	binary.BigEndian.PutUint32(unknownAction[8:12], 7)

	testCases := []struct {
		name   string
		packet []byte
		err    error
	}{
		{"empty", nil, errPacketTooShort},
		{"short header", make([]byte, 15), errPacketTooShort},
		{"wrong magic", wrongMagic, errInvalidProtocolID},
		{"unknown action", unknownAction, errUnknownAction},
		{"error action", ErrorResponse{}.Append(make([]byte, 8)), errUnknownAction},
		{"short announce", announce[:announceRequestSize-1], errPacketTooShort},
		{"scrape without hashes", scrape[:headerSize], errPacketTooShort},
		{"scrape with partial hash", append(scrape, 1, 2, 3), errMalformedPacket},
	}

	for _, testCase := range testCases {
		if _, err := ParseRequest(testCase.packet); err != testCase.err {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.err, err)
		}
	}
}

func TestParseRequest(t *testing.T) {
	// trailing BEP 41 options after the fixed announce fields are ignored
	packet := AnnounceRequest{ConnectionID: 1, TransactionID: 9, Port: 1}.Append(nil)
	packet = append(packet, 0x2, 0x5, '/', 'a', 'b', 'c', 'd')

	request, err := ParseRequest(packet)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	announce, ok := request.(AnnounceRequest)
	if !ok || announce.Transaction() != 9 {
		t.Fatalf("Expected announce request with transaction 9, got %#v", request)
	}

	negative := AnnounceRequest{Downloaded: -1, Left: -2, Uploaded: -3}.Append(nil)

	request, err = ParseRequest(negative)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if r := request.(AnnounceRequest); r.Downloaded != -1 || r.Left != -2 || r.Uploaded != -3 {
		t.Fatalf("Expected negative counters to survive decoding, got %#v", r)
	}

	request, err = ParseRequest(ScrapeRequest{TransactionID: 3, InfoHashes: make([]types.InfoHash, 3)}.Append(nil))
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}

	if r, ok := request.(ScrapeRequest); !ok || len(r.InfoHashes) != 3 {
		t.Fatalf("Expected scrape request with 3 hashes, got %#v", request)
	}
}
