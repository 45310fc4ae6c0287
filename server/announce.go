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
	"fmt"
	"net/netip"
	"time"

	"kuroneko/record"
	"kuroneko/registry"
	"kuroneko/server/params"
	"kuroneko/types"
	"kuroneko/util"

	"github.com/valyala/fasthttp"
)

func (h *httpHandler) announce(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	qp, err := params.ParseQuery(ctx.QueryArgs())
	if err != nil {
		panic(err)
	}

	if len(qp.Params.InfoHashes) == 0 {
		failure("Malformed request - missing info_hash", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	} else if len(qp.Params.InfoHashes) > 1 {
		failure("Malformed request - can only announce singular info_hash", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	if !qp.Exists.PeerID {
		failure("Malformed request - missing peer_id", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	peerID, ok := types.PeerIDFromRawString(qp.Params.PeerID)
	if !ok {
		failure("Malformed request - invalid peer_id", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	if !qp.Exists.Port {
		failure("Malformed request - missing port", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	if qp.Params.Port == 0 {
		failure("Malformed request - invalid port", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	if !qp.Exists.Uploaded {
		failure("Malformed request - missing uploaded", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	if !qp.Exists.Downloaded {
		failure("Malformed request - missing downloaded", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	if !qp.Exists.Left {
		failure("Malformed request - missing left", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	event, ok := types.ParseEvent(qp.Params.Event)
	if !ok {
		failure(fmt.Sprintf("Malformed request - invalid event (event: %s)", qp.Params.Event), buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	ip, ok := getIPAddressFromRequest(ctx, &qp, h.opts.ProxyHeader)
	if !ok {
		failure("Failed to parse IP address", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	numWant := min(h.opts.DefaultNumWant, h.opts.MaxNumWant)
	if qp.Exists.NumWant {
		numWant = min(int(qp.Params.NumWant), h.opts.MaxNumWant)
	}

	addr := netip.AddrPortFrom(ip, qp.Params.Port)
	infoHash := qp.Params.InfoHashes[0]

	result := h.tracker.Announce(infoHash, peerID, registry.PeerUpdate{
		Addr:       addr,
		Uploaded:   qp.Params.Uploaded,
		Downloaded: qp.Params.Downloaded,
		Left:       qp.Params.Left,
		Event:      event,
	}, numWant)

	record.Record(infoHash, peerID, addr, event, qp.Params.Uploaded, qp.Params.Downloaded, qp.Params.Left)

	/* We ask clients to announce each interval seconds. In order to spread the load on tracker,
	we will vary the interval given to client by random number of seconds between 0 and value
	specified in config */
	interval := int(h.opts.AnnounceInterval / time.Second)
	if drift := int(h.opts.AnnounceDrift / time.Second); drift > 0 {
		interval += util.UnsafeRand(0, drift)
	}

	compact := !qp.Exists.Compact || qp.Params.Compact
	withPeerID := !qp.Exists.NoPeerID || !qp.Params.NoPeerID

	util.BencodeAnnounceHeader(buf,
		int64(result.Seeders), int64(result.Leechers), int64(result.Completed),
		interval, int(h.opts.MinAnnounceInterval/time.Second))
	util.BencodeAnnouncePeers(buf, result.Peers, compact, withPeerID)
	util.BencodeAnnounceFooter(buf)

	return fasthttp.StatusOK
}
