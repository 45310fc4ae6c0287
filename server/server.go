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
	"log/slog"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"kuroneko/collector"
	"kuroneko/registry"
	"kuroneko/types"
	"kuroneko/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

// Tracker is the part of the swarm registry served over HTTP
type Tracker interface {
	Announce(infoHash types.InfoHash, peerID types.PeerID, update registry.PeerUpdate,
		numWant int) registry.AnnounceResult
	Scrape(infoHashes []types.InfoHash) []registry.ScrapeResult
	Stats() registry.Stats
}

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ProxyHeader names a header carrying the client address set by a reverse proxy
	ProxyHeader string
	AdminToken  string

	AnnounceInterval    time.Duration
	MinAnnounceInterval time.Duration
	AnnounceDrift       time.Duration
	ScrapeInterval      time.Duration

	DefaultNumWant int
	MaxNumWant     int
}

type httpHandler struct {
	tracker Tracker
	opts    Options

	bufferPool       *util.BufferPool
	normalRegisterer *prometheus.Registry

	startTime time.Time

	// Internal stats
	requests atomic.Uint64
}

type Server struct {
	handler *httpHandler
	server  *fasthttp.Server
}

func Listen(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	return listener, nil
}

func New(tracker Tracker, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}

	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = 30 * time.Minute
	}

	if opts.MinAnnounceInterval <= 0 {
		opts.MinAnnounceInterval = 15 * time.Minute
	}

	if opts.ScrapeInterval <= 0 {
		opts.ScrapeInterval = 15 * time.Minute
	}

	if opts.DefaultNumWant <= 0 {
		opts.DefaultNumWant = 25
	}

	if opts.MaxNumWant <= 0 {
		opts.MaxNumWant = 50
	}

	handler := &httpHandler{
		tracker:          tracker,
		opts:             opts,
		bufferPool:       util.NewBufferPool(512),
		normalRegisterer: prometheus.NewRegistry(),
		startTime:        time.Now(),
	}

	handler.normalRegisterer.MustRegister(collector.NewCollector())

	return &Server{
		handler: handler,
		server: &fasthttp.Server{
			Handler:                      handler.RequestHandler,
			ReadTimeout:                  opts.ReadTimeout,
			WriteTimeout:                 opts.WriteTimeout,
			GetOnly:                      true,
			DisablePreParseMultipartForm: true,
			NoDefaultServerHeader:        true,
			NoDefaultDate:                true,
		},
	}
}

// Serve accepts connections on listener until Shutdown is called
func (s *Server) Serve(listener net.Listener) error {
	slog.Info("ready and accepting new connections", "addr", listener.Addr())

	if err := s.server.Serve(listener); err != nil {
		return err
	}

	slog.Info("http server stopped", "requests", s.handler.requests.Load())

	return nil
}

// Shutdown closes the listeners and waits for active connections to finish processing
func (s *Server) Shutdown() error {
	return s.server.Shutdown()
}

func (h *httpHandler) respond(ctx *fasthttp.RequestCtx, buf *bytes.Buffer) (status int, action string) {
	switch action = string(ctx.Path()); action {
	case "/status":
		ctx.SetContentType("application/json")
		buf.WriteString(`{"status":"ok"}`)

		return fasthttp.StatusOK, "status"
	case "/announce":
		return h.announce(ctx, buf), "announce"
	case "/scrape":
		return h.scrape(ctx, buf), "scrape"
	case "/alive":
		ctx.SetContentType("application/json")
		return h.alive(buf), "alive"
	case "/metrics":
		return h.metrics(ctx, buf), "metrics"
	}

	return fasthttp.StatusNotFound, "unknown"
}

func (h *httpHandler) RequestHandler(ctx *fasthttp.RequestCtx) {
	buf := h.bufferPool.Take()
	defer h.bufferPool.Give(buf)

	defer func() {
		if err := recover(); err != nil {
			slog.Error("request handler panic", "err", err, "uri", ctx.RequestURI(), "stack", string(debug.Stack()))

			ctx.ResetBody()
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)

			collector.IncrementErroredRequests("http")
		}
	}()

	ctx.SetContentType("text/plain")

	status, action := h.respond(ctx, buf)

	ctx.SetStatusCode(status)
	ctx.SetBody(buf.Bytes())

	h.requests.Add(1)
	collector.IncrementRequests("http", action)
}
