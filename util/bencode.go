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
	"bytes"
	"slices"
	"strconv"
	"time"

	"kuroneko/types"
)

func bencodeWriteInt64[T ~int64 | ~int](buf *bytes.Buffer, v T) {
	var lenBuf [20]byte

	buf.Write(strconv.AppendInt(lenBuf[:0], int64(v), 10))
}

func bencodeWriteString[T ~string | ~[]byte](buf *bytes.Buffer, v T) {
	bencodeWriteInt64(buf, len(v))
	buf.WriteByte(':')
	buf.Write([]byte(v))
}

func bencodeWriteNumber[T ~int64 | ~int](buf *bytes.Buffer, v T) {
	buf.WriteByte('i')
	bencodeWriteInt64(buf, v)
	buf.WriteByte('e')
}

func BencodeFailure(buf *bytes.Buffer, err string, interval time.Duration) {
	if interval < 0 {
		panic("bencode: negative interval")
	}

	buf.WriteByte('d')

	bencodeWriteString(buf, "failure reason")
	bencodeWriteString(buf, err)

	if interval > 0 {
		bencodeWriteString(buf, "interval")
		bencodeWriteNumber(buf, interval/time.Second)
	}

	buf.WriteByte('e')
}

// BencodeSortInfoHashKeys orders hashes the way bencode requires dictionary keys to be ordered
func BencodeSortInfoHashKeys(keys []types.InfoHash) {
	slices.SortFunc(keys, func(a, b types.InfoHash) int {
		return bytes.Compare(a[:], b[:])
	})
}

// BencodeScrapeHeader Writes the scrape header.
// Call BencodeScrapeTorrent afterwards with keys in sorted order, then finish with BencodeScrapeFooter
func BencodeScrapeHeader(buf *bytes.Buffer) {
	buf.WriteByte('d')

	bencodeWriteString(buf, "files")

	buf.WriteByte('d')
}

// BencodeScrapeTorrent writes one entry of the files dictionary, keyed by the raw info hash (BEP 48)
func BencodeScrapeTorrent(buf *bytes.Buffer, infoHash types.InfoHash, complete, downloaded, incomplete int64) {
	bencodeWriteString(buf, infoHash[:])

	buf.WriteByte('d')

	bencodeWriteString(buf, "complete")
	bencodeWriteNumber(buf, complete)

	bencodeWriteString(buf, "downloaded")
	bencodeWriteNumber(buf, downloaded)

	bencodeWriteString(buf, "incomplete")
	bencodeWriteNumber(buf, incomplete)

	buf.WriteByte('e')
}

func BencodeScrapeFooter(buf *bytes.Buffer, scrapeInterval int) {
	buf.WriteByte('e')

	bencodeWriteString(buf, "flags")

	buf.WriteByte('d')

	bencodeWriteString(buf, "min_request_interval")
	bencodeWriteNumber(buf, scrapeInterval)

	buf.WriteByte('e')

	buf.WriteByte('e')
}

// BencodeAnnounceHeader Writes the announce header.
// Call BencodeAnnouncePeers afterwards, then finish with BencodeAnnounceFooter
func BencodeAnnounceHeader(buf *bytes.Buffer, complete, incomplete, downloaded int64, interval, minInterval int) {
	buf.WriteByte('d')

	bencodeWriteString(buf, "complete")
	bencodeWriteNumber(buf, complete)

	bencodeWriteString(buf, "downloaded")
	bencodeWriteNumber(buf, downloaded)

	bencodeWriteString(buf, "incomplete")
	bencodeWriteNumber(buf, incomplete)

	bencodeWriteString(buf, "interval")
	bencodeWriteNumber(buf, interval)

	bencodeWriteString(buf, "min interval")
	bencodeWriteNumber(buf, minInterval)
}

/*
 * BencodeAnnouncePeers writes the peer list. In compact form IPv4 peers go to
 * "peers" (BEP 23) and IPv6 peers to "peers6" (BEP 7), the latter only when
 * there are any. The dictionary form carries both families in one list.
 */
func BencodeAnnouncePeers(buf *bytes.Buffer, peers []types.Peer, compact, peerID bool) {
	bencodeWriteString(buf, "peers")

	if compact {
		var v6 int

		for i := range peers {
			if !peers[i].Addr.Addr().Is4() {
				v6++
			}
		}

		bencodeWriteInt64(buf, (len(peers)-v6)*6)
		buf.WriteByte(':')

		for i := range peers {
			if peers[i].Addr.Addr().Is4() {
				buf.Write(types.AppendCompact(buf.AvailableBuffer(), peers[i].Addr))
			}
		}

		if v6 > 0 {
			bencodeWriteString(buf, "peers6")
			bencodeWriteInt64(buf, v6*18)
			buf.WriteByte(':')

			for i := range peers {
				if !peers[i].Addr.Addr().Is4() {
					buf.Write(types.AppendCompact(buf.AvailableBuffer(), peers[i].Addr))
				}
			}
		}

		return
	}

	var ipBuf [64]byte

	buf.WriteByte('l')

	for i := range peers {
		buf.WriteByte('d')

		bencodeWriteString(buf, "ip")
		bencodeWriteString(buf, peers[i].Addr.Addr().AppendTo(ipBuf[:0]))

		if peerID {
			bencodeWriteString(buf, "peer id")
			bencodeWriteString(buf, peers[i].ID[:])
		}

		bencodeWriteString(buf, "port")
		bencodeWriteNumber(buf, int64(peers[i].Addr.Port()))

		buf.WriteByte('e')
	}

	buf.WriteByte('e')
}

func BencodeAnnounceFooter(buf *bytes.Buffer) {
	buf.WriteByte('e')
}
