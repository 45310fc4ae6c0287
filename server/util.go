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

package server

import (
	"bytes"
	"net"
	"net/netip"
	"time"

	"kuroneko/server/params"
	"kuroneko/util"

	"github.com/valyala/fasthttp"
)

func failure(err string, buf *bytes.Buffer, interval time.Duration) {
	// Reset buffer to prevent reuse of any written bytes
	buf.Reset()
	util.BencodeFailure(buf, err, interval)
}

func isPrivateIPAddress(address netip.Addr) bool {
	return !address.IsGlobalUnicast() || address.IsPrivate()
}

// getPublicIPv4 accepts a client supplied address only if it is a public IPv4 address
func getPublicIPv4(ipAddr string, exists bool) (netip.Addr, bool) {
	if !exists {
		return netip.Addr{}, false
	}

	ip, err := netip.ParseAddr(ipAddr)
	if err != nil {
		return netip.Addr{}, false
	}

	ip = ip.Unmap()
	if !ip.Is4() || isPrivateIPAddress(ip) {
		return netip.Addr{}, false
	}

	return ip, true
}

// getIPAddressFromRequest picks the peer address: client supplied public IPv4 first, then proxy header,
// then the socket address
func getIPAddressFromRequest(ctx *fasthttp.RequestCtx, qp *params.QueryParam, proxyHeader string) (netip.Addr, bool) {
	ipV4, existsV4 := getPublicIPv4(qp.Params.IPv4, qp.Exists.IPv4)
	ip, exists := getPublicIPv4(qp.Params.IP, qp.Exists.IP)

	// Fail if ip and ipv4 are not same, and both are provided
	if existsV4 && exists && ip != ipV4 {
		return netip.Addr{}, false
	}

	if existsV4 {
		return ipV4, true
	}

	if exists {
		return ip, true
	}

	if proxyHeader != "" {
		if header := ctx.Request.Header.Peek(proxyHeader); len(header) > 0 {
			// Check list of IPs and try to return the first public address
			for _, remoteBytes := range bytes.Split(header, []byte(",")) {
				if remoteIP, err := netip.ParseAddr(string(bytes.TrimSpace(remoteBytes))); err == nil {
					if !isPrivateIPAddress(remoteIP) {
						return remoteIP.Unmap(), true
					}
				}
			}

			// Only private addresses were listed, trust the closest one
			if remoteIP, err := netip.ParseAddr(string(bytes.TrimSpace(bytes.Split(header, []byte(","))[0]))); err == nil {
				return remoteIP.Unmap(), true
			}
		}
	}

	// Try to use socket address directly
	if addr, ok := ctx.RemoteAddr().(*net.TCPAddr); ok {
		return addr.AddrPort().Addr().Unmap(), true
	}

	// Parse address from context (fallback)
	addrPort, err := netip.ParseAddrPort(ctx.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}, false
	}

	return addrPort.Addr().Unmap(), true
}
