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

package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"kuroneko/collector"
	"kuroneko/connid"
	"kuroneko/registry"
	"kuroneko/types"
	"kuroneko/util"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

const (
	DefaultNumWant = 25
	DefaultMaxWant = 50

	// peers that still fit in one unfragmented response
	maxPeersPerPacketV4 = (1500 - announceResponseHeaderSize) / peerSizeV4
	maxPeersPerPacketV6 = (1500 - announceResponseHeaderSize) / peerSizeV6
)

// Tracker is the part of the swarm registry the protocol engine talks to
type Tracker interface {
	Announce(infoHash types.InfoHash, peerID types.PeerID, update registry.PeerUpdate,
		numWant int) registry.AnnounceResult
	Scrape(infoHashes []types.InfoHash) []registry.ScrapeResult
}

type Options struct {
	AnnounceInterval time.Duration
	DefaultNumWant   int
	MaxNumWant       int

	// ConnectRate is the sustained connect requests per second allowed per client IP, 0 disables limiting
	ConnectRate  rate.Limit
	ConnectBurst int

	Clock clock.Clock
}

type Server struct {
	conn      net.PacketConn
	tracker   Tracker
	authority *connid.Authority
	limiter   *connectLimiter
	clock     clock.Clock

	announceInterval uint32
	defaultNumWant   int
	maxNumWant       int

	bufferPool *util.BufferPool
	waitGroup  sync.WaitGroup
	terminate  atomic.Bool
	closed     chan struct{}
}

// Listen binds a UDP socket. network is "udp4" or "udp6".
// Read errors other than a closed socket are retried with a growing pause
const (
	minReadRetryDelay = 5 * time.Millisecond
	maxReadRetryDelay = time.Second
)

func Listen(network, addr string) (net.PacketConn, error) {
	conn, err := net.ListenPacket(network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return conn, nil
}

func NewServer(conn net.PacketConn, tracker Tracker, authority *connid.Authority, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	if opts.DefaultNumWant <= 0 {
		opts.DefaultNumWant = DefaultNumWant
	}

	if opts.MaxNumWant <= 0 {
		opts.MaxNumWant = DefaultMaxWant
	}

	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = 30 * time.Minute
	}

	return &Server{
		conn:             conn,
		tracker:          tracker,
		authority:        authority,
		limiter:          newConnectLimiter(opts.ConnectRate, opts.ConnectBurst),
		clock:            opts.Clock,
		announceInterval: uint32(opts.AnnounceInterval / time.Second),
		defaultNumWant:   opts.DefaultNumWant,
		maxNumWant:       opts.MaxNumWant,
		bufferPool:       util.NewBufferPool(MaxPacketSize),
		closed:           make(chan struct{}),
	}
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or Shutdown is called, then waits for in-flight handlers
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	slog.Info("ready and accepting udp requests", "addr", s.conn.LocalAddr())

	var retryDelay time.Duration

	for {
		buf, raw := s.bufferPool.TakeSlice()

		n, addr, err := s.conn.ReadFrom(raw)
		if err != nil {
			s.bufferPool.Give(buf)

			if s.terminate.Load() || errors.Is(err, net.ErrClosed) {
				break
			}

			retryDelay = max(min(2*retryDelay, maxReadRetryDelay), minReadRetryDelay)

			slog.Error("failed to read udp packet", "err", err, "retry_in", retryDelay)

			select {
			case <-s.clock.After(retryDelay):
			case <-s.closed:
			}

			continue
		}

		retryDelay = 0

		from, ok := addrPort(addr)
		if !ok {
			s.bufferPool.Give(buf)
			continue
		}

		s.waitGroup.Add(1)

		go func() {
			defer s.waitGroup.Done()
			defer s.bufferPool.Give(buf)

			s.handlePacket(addr, from, raw[:n])
		}()
	}

	s.waitGroup.Wait()

	slog.Info("udp server stopped", "addr", s.conn.LocalAddr())

	return nil
}

// Shutdown stops the receive loop. Serve returns once in-flight requests are answered.
func (s *Server) Shutdown() {
	if s.terminate.CompareAndSwap(false, true) {
		close(s.closed)

		if err := s.conn.Close(); err != nil {
			slog.Warn("failed to close udp socket", "err", err)
		}
	}
}

func addrPort(addr net.Addr) (netip.AddrPort, bool) {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		ap := udpAddr.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
	}

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, false
	}

	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}

func (s *Server) handlePacket(addr net.Addr, from netip.AddrPort, packet []byte) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("recovered from panic while handling udp packet", "addr", from, "err", err)
			collector.IncrementDroppedPackets("panic")
		}
	}()

	response := s.handle(from, packet)
	if response == nil {
		return
	}

	if _, err := s.conn.WriteTo(response, addr); err != nil && !s.terminate.Load() {
		slog.Debug("failed to send udp response", "addr", from, "err", err)
	}
}

// handle turns one datagram into its response. nil means the datagram is dropped.
func (s *Server) handle(from netip.AddrPort, packet []byte) []byte {
	request, err := ParseRequest(packet)
	if err != nil {
		slog.Debug("dropping udp packet", "addr", from, "len", len(packet), "err", err)
		collector.IncrementDroppedPackets(dropReason(err))

		return nil
	}

	now := s.clock.Now()

	switch r := request.(type) {
	case ConnectRequest:
		collector.IncrementRequests("udp", "connect")

		if !s.limiter.Allow(from.Addr(), now) {
			slog.Debug("connect rate limited", "addr", from)
			collector.IncrementDroppedPackets("rate_limited")

			return nil
		}

		return ConnectResponse{
			TransactionID: r.TransactionID,
			ConnectionID:  s.authority.Issue(from, now),
		}.Append(make([]byte, 0, connectResponseSize))
	case AnnounceRequest:
		collector.IncrementRequests("udp", "announce")

		if !s.authority.Validate(r.ConnectionID, from, now) {
			return s.failure(r.TransactionID, "invalid connection id")
		}

		return s.announce(from, r)
	case ScrapeRequest:
		collector.IncrementRequests("udp", "scrape")

		if !s.authority.Validate(r.ConnectionID, from, now) {
			return s.failure(r.TransactionID, "invalid connection id")
		}

		return s.scrape(r)
	}

	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errPacketTooShort):
		return "too_short"
	case errors.Is(err, errUnknownAction):
		return "unknown_action"
	case errors.Is(err, errInvalidProtocolID):
		return "protocol_id"
	default:
		return "malformed"
	}
}

func (s *Server) failure(transactionID uint32, message string) []byte {
	collector.IncrementErroredRequests("udp")

	return ErrorResponse{TransactionID: transactionID, Message: message}.
		Append(make([]byte, 0, errorResponseHeaderSize+len(message)))
}

func (s *Server) numWant(requested int32, ipv4 bool) int {
	numWant := int(requested)
	if numWant <= 0 {
		numWant = s.defaultNumWant
	}

	numWant = min(numWant, s.maxNumWant)

	if ipv4 {
		return min(numWant, maxPeersPerPacketV4)
	}

	return min(numWant, maxPeersPerPacketV6)
}

func (s *Server) announce(from netip.AddrPort, r AnnounceRequest) []byte {
	ipv4 := from.Addr().Is4()

	switch {
	case r.Downloaded < 0 || r.Left < 0 || r.Uploaded < 0:
		return s.failure(r.TransactionID, "invalid byte counters")
	case r.Port == 0:
		return s.failure(r.TransactionID, "invalid port")
	case r.Event > uint32(types.EventStopped):
		return s.failure(r.TransactionID, "invalid event")
	case r.IP != 0 && !ipv4:
		return s.failure(r.TransactionID, "ip address must be 0 for ipv6")
	}

	// the ip field is not trusted, peers are always recorded at their source address
	result := s.tracker.Announce(r.InfoHash, r.PeerID, registry.PeerUpdate{
		Addr:       netip.AddrPortFrom(from.Addr(), r.Port),
		Uploaded:   uint64(r.Uploaded),
		Downloaded: uint64(r.Downloaded),
		Left:       uint64(r.Left),
		Event:      types.Event(r.Event),
	}, s.numWant(r.NumWant, ipv4))

	response := AnnounceResponse{
		TransactionID: r.TransactionID,
		Interval:      s.announceInterval,
		Leechers:      result.Leechers,
		Seeders:       result.Seeders,
		Peers:         make([]netip.AddrPort, 0, len(result.Peers)),
	}

	for _, p := range result.Peers {
		if p.Addr.Addr().Is4() == ipv4 {
			response.Peers = append(response.Peers, p.Addr)
		}
	}

	peerSize := peerSizeV6
	if ipv4 {
		peerSize = peerSizeV4
	}

	slog.Debug("udp announce", "addr", from, "info_hash", r.InfoHash, "event", types.Event(r.Event),
		"peers", len(response.Peers))

	return response.Append(make([]byte, 0, announceResponseHeaderSize+len(response.Peers)*peerSize))
}

func (s *Server) scrape(r ScrapeRequest) []byte {
	infoHashes := r.InfoHashes
	if len(infoHashes) > MaxScrapeHashes {
		infoHashes = infoHashes[:MaxScrapeHashes]
	}

	results := s.tracker.Scrape(infoHashes)

	response := ScrapeResponse{
		TransactionID: r.TransactionID,
		Stats:         make([]ScrapeStats, len(results)),
	}

	for i, result := range results {
		response.Stats[i] = ScrapeStats{
			Seeders:   result.Seeders,
			Completed: result.Completed,
			Leechers:  result.Leechers,
		}
	}

	return response.Append(make([]byte, 0, scrapeResponseHeaderSize+len(results)*scrapeEntrySize))
}
