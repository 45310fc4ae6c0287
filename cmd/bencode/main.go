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

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"runtime"

	"github.com/zeebo/bencode"
)

var (
	decode, raw, help bool
)

// provided at compile-time
var (
	BuildDate    = "0000-00-00T00:00:00+0000"
	BuildVersion = "development"
)

func init() {
	flag.BoolVar(&decode, "d", false, "Decodes a tracker response instead of encoding")
	flag.BoolVar(&raw, "r", false, "Prints decoded values as is, without expanding peers and info hashes")
	flag.BoolVar(&help, "h", false, "Prints this help message")
}

func main() {
	fmt.Printf("bencode for chihaya (kuroneko), ver=%s date=%s runtime=%s\n\n",
		BuildVersion, BuildDate, runtime.Version())

	flag.Parse()

	if help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()

		return
	}

	var val interface{}

	if decode {
		decoder := bencode.NewDecoder(os.Stdin)

		err := decoder.Decode(&val)
		if err != nil {
			panic(err)
		}

		if !raw {
			val = expand("", val)
		}

		out, err := json.MarshalIndent(val, "", "\t")
		if err != nil {
			panic(err)
		}

		fmt.Println(string(out))
	} else {
		decoder := json.NewDecoder(os.Stdin)
		decoder.UseNumber()

		err := decoder.Decode(&val)
		if err != nil {
			panic(err)
		}

		encoder := bencode.NewEncoder(os.Stdout)
		err = encoder.Encode(val)
		if err != nil {
			panic(err)
		}
	}
}

// expand rewrites binary fields of announce and scrape responses into printable form
func expand(key string, val interface{}) interface{} {
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))

		for k, item := range v {
			if key == "files" && len(k) == 20 {
				out[hex.EncodeToString([]byte(k))] = expand(k, item)
			} else {
				out[k] = expand(k, item)
			}
		}

		return out
	case []interface{}:
		out := make([]interface{}, len(v))

		for i, item := range v {
			out[i] = expand(key, item)
		}

		return out
	case string:
		switch key {
		case "peers":
			if peers, ok := compactPeers([]byte(v), 4); ok {
				return peers
			}
		case "peers6":
			if peers, ok := compactPeers([]byte(v), 16); ok {
				return peers
			}
		case "peer id":
			return hex.EncodeToString([]byte(v))
		}
	}

	return val
}

func compactPeers(b []byte, addrSize int) ([]string, bool) {
	entrySize := addrSize + 2
	if len(b)%entrySize != 0 {
		return nil, false
	}

	peers := make([]string, 0, len(b)/entrySize)

	for ; len(b) > 0; b = b[entrySize:] {
		addr, _ := netip.AddrFromSlice(b[:addrSize])
		port := uint16(b[addrSize])<<8 | uint16(b[addrSize+1])

		peers = append(peers, netip.AddrPortFrom(addr, port).String())
	}

	return peers, true
}
