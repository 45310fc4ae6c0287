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

// Package connid issues and validates BEP 15 connection ids without keeping state.
//
// An id is [32-bit truncated unix milliseconds at issue][first 32 bits of HMAC-SHA256(secret, ip, port, issue time)].
package connid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"net/netip"
	"time"

	"kuroneko/util"
)

// DefaultWindow is how long an id stays valid, as suggested by BEP 15
const DefaultWindow = 2 * time.Minute

// maxClockSkew tolerates ids issued slightly in the future, e.g. after the wall clock stepped back
const maxClockSkew = 5 * time.Second

const secretSize = 32

type Authority struct {
	secret []byte
	window time.Duration
}

// New returns an Authority keyed with secret. An empty secret is replaced by random bytes,
// which invalidates outstanding ids on every restart.
func New(secret []byte, window time.Duration) *Authority {
	if len(secret) == 0 {
		secret = util.RandBytes(secretSize)
	} else {
		secret = append([]byte(nil), secret...)
	}

	if window <= 0 {
		window = DefaultWindow
	}

	return &Authority{secret: secret, window: window}
}

func (a *Authority) sign(addr netip.AddrPort, issued uint32) uint32 {
	var buf [16 + 2 + 4]byte

	ip := addr.Addr().Unmap().As16()
	copy(buf[:16], ip[:])
	binary.BigEndian.PutUint16(buf[16:18], addr.Port())
	binary.BigEndian.PutUint32(buf[18:], issued)

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(buf[:])

	return binary.BigEndian.Uint32(mac.Sum(nil)[:4])
}

// Issue returns the id for addr at now. The high 32 bits carry the issue time in milliseconds,
// truncated, so the same address within the same millisecond gets the same id.
func (a *Authority) Issue(addr netip.AddrPort, now time.Time) uint64 {
	issued := uint32(now.UnixMilli())

	return uint64(issued)<<32 | uint64(a.sign(addr, issued))
}

// Validate reports whether id was issued to addr by this authority no longer than the window ago.
// Ages are computed modulo 2^32 ms so the truncated timestamp may wrap between issue and use.
func (a *Authority) Validate(id uint64, addr netip.AddrPort, now time.Time) bool {
	issued := uint32(id >> 32)
	age := int64(int32(uint32(now.UnixMilli()) - issued))

	if age > a.window.Milliseconds() || age < -maxClockSkew.Milliseconds() {
		return false
	}

	var expected, got [4]byte

	binary.BigEndian.PutUint32(expected[:], a.sign(addr, issued))
	binary.BigEndian.PutUint32(got[:], uint32(id))

	return hmac.Equal(expected[:], got[:])
}
