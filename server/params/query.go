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

// Package params is based on https://github.com/chihaya/chihaya/blob/e6e7269/bittorrent/params.go
package params

import (
	"bytes"
	"strconv"

	"kuroneko/types"

	"github.com/valyala/fasthttp"
)

type QueryParam struct {
	Params struct {
		Uploaded   uint64
		Downloaded uint64
		Left       uint64

		Port    uint16
		NumWant uint16

		InfoHashes []types.InfoHash
		PeerID     string
		IPv4       string
		IP         string
		Event      string

		Compact  bool
		NoPeerID bool

		testGarbageUnescape string
	}

	Exists struct {
		Uploaded   bool
		Downloaded bool
		Left       bool

		Port    bool
		NumWant bool

		InfoHashes bool
		PeerID     bool
		IPv4       bool
		IP         bool
		Event      bool

		Compact  bool
		NoPeerID bool

		testGarbageUnescape bool
	}
}

// ParseQuery reads the announce and scrape parameters from already unescaped query args.
// Keys are matched case-insensitively. Values that fail to parse are reported as absent.
func ParseQuery(args *fasthttp.Args) (qp QueryParam, err error) {
	args.VisitAll(func(rawKey, value []byte) {
		key := string(bytes.ToLower(rawKey))

		switch key {
		case "info_hash":
			if infoHash, ok := types.InfoHashFromRawString(string(value)); ok {
				qp.Params.InfoHashes = append(qp.Params.InfoHashes, infoHash)
				qp.Exists.InfoHashes = true
			}
		case "peer_id":
			qp.Params.PeerID, qp.Exists.PeerID = string(value), true
		case "ipv4":
			qp.Params.IPv4, qp.Exists.IPv4 = string(value), true
		case "ip":
			qp.Params.IP, qp.Exists.IP = string(value), true
		case "event":
			qp.Params.Event, qp.Exists.Event = string(value), true
		case "uploaded":
			qp.Params.Uploaded, qp.Exists.Uploaded = getUint(value, 64)
		case "downloaded":
			qp.Params.Downloaded, qp.Exists.Downloaded = getUint(value, 64)
		case "left":
			qp.Params.Left, qp.Exists.Left = getUint(value, 64)
		case "port":
			qp.Params.Port, qp.Exists.Port = getUint16(value)
		case "numwant":
			qp.Params.NumWant, qp.Exists.NumWant = getUint16(value)
		case "compact":
			qp.Params.Compact, qp.Exists.Compact = getBool(value)
		case "no_peer_id":
			qp.Params.NoPeerID, qp.Exists.NoPeerID = getBool(value)
		case "!@#":
			qp.Params.testGarbageUnescape, qp.Exists.testGarbageUnescape = string(value), true
		}
	})

	return qp, nil
}

func getUint(value []byte, bitSize int) (uint64, bool) {
	ret, err := strconv.ParseUint(string(value), 10, bitSize)
	if err != nil {
		return 0, false
	}

	return ret, true
}

func getUint16(value []byte) (uint16, bool) {
	ret, ok := getUint(value, 16)

	return uint16(ret), ok
}

func getBool(value []byte) (bool, bool) {
	ret, err := strconv.ParseBool(string(value))
	if err != nil {
		return false, false
	}

	return ret, true
}
