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
	"slices"
	"time"

	"kuroneko/server/params"
	"kuroneko/util"

	"github.com/valyala/fasthttp"
)

func (h *httpHandler) scrape(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	qp, err := params.ParseQuery(ctx.QueryArgs())
	if err != nil {
		panic(err)
	}

	if len(qp.Params.InfoHashes) == 0 {
		failure("Scrape without info_hash is not supported", buf, 1*time.Hour)
		return fasthttp.StatusOK // Required by torrent clients to interpret failure response
	}

	// Dictionary keys must be unique and sorted
	infoHashes := qp.Params.InfoHashes
	util.BencodeSortInfoHashKeys(infoHashes)
	infoHashes = slices.Compact(infoHashes)

	util.BencodeScrapeHeader(buf)

	for _, result := range h.tracker.Scrape(infoHashes) {
		util.BencodeScrapeTorrent(buf, result.InfoHash,
			int64(result.Seeders), int64(result.Completed), int64(result.Leechers))
	}

	util.BencodeScrapeFooter(buf, int(h.opts.ScrapeInterval/time.Second))

	return fasthttp.StatusOK
}
