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
	"crypto/subtle"
	"log/slog"
	"time"

	"kuroneko/collector"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

var bearerPrefix = "Bearer "

func (h *httpHandler) metrics(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) int {
	stats := h.tracker.Stats()

	collector.UpdateUptime(time.Since(h.startTime).Seconds())
	collector.UpdateSwarms(stats.Swarms, stats.Seeders, stats.Leechers)

	ctx.SetContentType(string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	writeMetrics(buf, h.normalRegisterer)

	auth := string(ctx.Request.Header.Peek("Authorization"))

	n := len(bearerPrefix)
	if h.opts.AdminToken != "" && len(auth) > n && auth[:n] == bearerPrefix &&
		subtle.ConstantTimeCompare([]byte(auth[n:]), []byte(h.opts.AdminToken)) == 1 {
		writeMetrics(buf, prometheus.DefaultGatherer)
	}

	return fasthttp.StatusOK
}

func writeMetrics(buf *bytes.Buffer, gatherer prometheus.Gatherer) {
	mfs, err := gatherer.Gather()
	if err != nil {
		slog.Warn("failed to gather some metrics", "err", err)
	}

	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
			slog.Error("error in converting metrics to text", "err", err)
			panic(err)
		}
	}
}
