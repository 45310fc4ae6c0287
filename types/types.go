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
	"database/sql/driver"
	"encoding/hex"
	"errors"
)

// InfoHash identifies a torrent swarm
// https://www.bittorrent.org/beps/bep_0003.html
type InfoHash [20]byte

var (
	errInvalidType          = errors.New("invalid type")
	errWrongInfoHashSize    = errors.New("wrong info hash size")
	errNilInfoHash          = errors.New("nil info hash")
	errUnsupportedAddrBytes = errors.New("unsupported address length")
	errUnsupportedEvent     = errors.New("unsupported event")
)

func InfoHashFromRawString(buf string) (h InfoHash, ok bool) {
	if len(buf) != len(h) {
		return h, false
	}

	copy(h[:], buf)

	return h, true
}

//goland:noinspection GoMixedReceiverTypes
func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

//goland:noinspection GoMixedReceiverTypes
func (h *InfoHash) Scan(src any) error {
	if src == nil {
		return errNilInfoHash
	} else if buf, ok := src.([]byte); ok {
		if len(buf) == 0 {
			return errNilInfoHash
		}

		if len(buf) != len(h) {
			return errWrongInfoHashSize
		}

		copy(h[:], buf)

		return nil
	}

	return errInvalidType
}

//goland:noinspection GoMixedReceiverTypes
func (h InfoHash) Value() (driver.Value, error) {
	return h[:], nil
}

//goland:noinspection GoMixedReceiverTypes
func (h InfoHash) MarshalText() ([]byte, error) {
	var buf [len(h) * 2]byte

	hex.Encode(buf[:], h[:])

	return buf[:], nil
}

//goland:noinspection GoMixedReceiverTypes
func (h *InfoHash) UnmarshalText(b []byte) error {
	if len(b) != len(h)*2 {
		return errWrongInfoHashSize
	}

	_, err := hex.Decode(h[:], b)

	return err
}
