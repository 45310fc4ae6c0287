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
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"kuroneko/config"
	"kuroneko/connid"
	"kuroneko/persistence"
	"kuroneko/record"
	"kuroneko/registry"
	"kuroneko/server"
	"kuroneko/udp"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	configFile string
	pprof      string
	help       bool
)

// Provided at compile-time
var (
	BuildDate    = "0000-00-00T00:00:00+0000"
	BuildVersion = "development"
)

var errNoTransport = errors.New("no transport could be started")

func init() {
	flag.StringVar(&configFile, "c", config.DefaultFile, "Path to the JSON config file")
	flag.StringVar(&pprof, "P", "", "Starts special pprof debug server on specified addr")
	flag.BoolVar(&help, "h", false, "Shows this help dialog")
}

func main() {
	fmt.Printf("chihaya (kuroneko), ver=%s date=%s runtime=%s, cpus=%d\n\n",
		BuildVersion, BuildDate, runtime.Version(), runtime.GOMAXPROCS(0))

	flag.Parse()

	if help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()

		return
	}

	// Reconfigure logger
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(pprof) > 0 {
		// Both are disabled by default; sample 1% of events
		runtime.SetMutexProfileFraction(100)
		runtime.SetBlockProfileRate(100)

		go func() {
			l, err := net.Listen("tcp", pprof)
			if err != nil {
				slog.Error("failed to start special pprof debug server", "err", err)
				return
			}

			//nolint:gosec
			s := &http.Server{
				Handler: http.DefaultServeMux,
			}

			slog.Warn("started special pprof debug server", "addr", l.Addr())

			_ = s.Serve(l)
		}()
	}

	if err := run(); err != nil {
		slog.Error("tracker stopped with error", "err", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

func run() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second signal terminates immediately
	context.AfterFunc(ctx, func() {
		slog.Info("caught interrupt, shutting down...")
		stop()
	})

	reg := registry.New(registry.Options{RetainEmpty: retainEmpty(cfg)})
	defer reg.Terminate()

	gateway, closeGateway := openGateway(ctx, cfg)
	defer closeGateway()

	if gateway != nil {
		if snapshot, err := gateway.Load(ctx); err != nil {
			slog.Warn("starting with empty swarms", "err", err)
		} else {
			reg.Restore(snapshot)
		}
	}

	if enabled, _ := cfg.GetBool("record", false); enabled {
		if err = record.Init("events"); err != nil {
			slog.Error("failed to start event recording", "err", err)
		} else {
			defer record.Close()
		}
	}

	intervals := cfg.Section("intervals")
	cleanupInterval, _ := intervals.GetSeconds("cleanup", 600)
	peerInactivity, _ := intervals.GetSeconds("peer_inactivity", 3900)

	g, gctx := errgroup.WithContext(ctx)

	janitor := registry.NewJanitor(reg.Handle(), clock.New(), cleanupInterval, peerInactivity)
	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})

	transports := startUDP(gctx, g, cfg, reg) + startHTTP(gctx, g, cfg, reg)
	if transports == 0 {
		return errNoTransport
	}

	slog.Info("starting main server loop...", "transports", transports)

	err = g.Wait()

	if gateway != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if errSave := gateway.Save(saveCtx, reg.Snapshot()); errSave != nil {
			slog.Error("swarms were not persisted", "err", errSave)
		}
	}

	return err
}

// retainEmpty keeps peerless swarms whenever persistence is on so their completed count is not lost
func retainEmpty(cfg config.Map) bool {
	persistenceConfig := cfg.Section("persistence")
	enabled, _ := persistenceConfig.GetBool("enabled", false)
	retain, _ := persistenceConfig.GetBool("retain_empty", enabled)

	return retain
}

func openGateway(ctx context.Context, cfg config.Map) (persistence.Gateway, func()) {
	persistenceConfig := cfg.Section("persistence")

	if enabled, _ := persistenceConfig.GetBool("enabled", false); !enabled {
		return nil, func() {}
	}

	switch backend, _ := persistenceConfig.Get("backend", "cache"); backend {
	case "cache":
		cacheFile, _ := persistenceConfig.Get("cache_file", "")
		return persistence.NewCacheFile(cacheFile), func() {}
	case "mysql":
		databaseConfig := cfg.Section("database")
		deadlockPause, _ := databaseConfig.GetSeconds("deadlock_pause", 1)
		deadlockRetries, _ := databaseConfig.GetInt("deadlock_retries", 5)

		slog.Info("opening database connection...")

		db, err := persistence.OpenMySQL(ctx, persistence.MySQLOptions{
			DSN:             persistence.DSN(databaseConfig),
			DeadlockPause:   deadlockPause,
			DeadlockRetries: deadlockRetries,
		})
		if err != nil {
			slog.Error("persistence disabled", "err", err)
			return nil, func() {}
		}

		return db, func() {
			if err := db.Close(); err != nil {
				slog.Warn("failed to close database", "err", err)
			}
		}
	default:
		slog.Error("unknown persistence backend, persistence disabled", "backend", backend)
		return nil, func() {}
	}
}

func startUDP(ctx context.Context, g *errgroup.Group, cfg config.Map, reg *registry.Registry) (started int) {
	udpConfig := cfg.Section("udp")
	announceConfig := cfg.Section("announce")

	if enabled, _ := udpConfig.GetBool("enabled", true); !enabled {
		return 0
	}

	secret, _ := udpConfig.Get("secret", "")
	window, _ := udpConfig.GetSeconds("connection_id_window", int(connid.DefaultWindow/time.Second))
	authority := connid.New([]byte(secret), window)

	announceInterval, _ := cfg.Section("intervals").GetSeconds("announce", 1800)
	defaultNumWant, _ := announceConfig.GetInt("numwant", udp.DefaultNumWant)
	maxNumWant, _ := announceConfig.GetInt("max_numwant", udp.DefaultMaxWant)
	connectRate, _ := udpConfig.GetFloat("connect_rate", 10)
	connectBurst, _ := udpConfig.GetInt("connect_burst", 10)

	opts := udp.Options{
		AnnounceInterval: announceInterval,
		DefaultNumWant:   defaultNumWant,
		MaxNumWant:       maxNumWant,
		ConnectRate:      rate.Limit(connectRate),
		ConnectBurst:     connectBurst,
	}

	listeners := []struct {
		network, addr string
		enabled       bool
	}{
		{"udp4", "0.0.0.0:6969", true},
		{"udp6", "[::]:6969", false},
	}

	listeners[0].addr, _ = udpConfig.Get("addr", listeners[0].addr)
	listeners[1].addr, _ = udpConfig.Get("ipv6_addr", listeners[1].addr)
	listeners[1].enabled, _ = udpConfig.GetBool("ipv6_enabled", listeners[1].enabled)

	for _, l := range listeners {
		if !l.enabled {
			continue
		}

		conn, err := udp.Listen(l.network, l.addr)
		if err != nil {
			slog.Error("failed to bind udp tracker, skipping", "err", err)
			continue
		}

		s := udp.NewServer(conn, reg, authority, opts)

		g.Go(func() error {
			return s.Serve(ctx)
		})

		started++
	}

	return started
}

func startHTTP(ctx context.Context, g *errgroup.Group, cfg config.Map, reg *registry.Registry) int {
	httpConfig := cfg.Section("http")
	intervals := cfg.Section("intervals")
	announceConfig := cfg.Section("announce")

	if enabled, _ := httpConfig.GetBool("enabled", true); !enabled {
		return 0
	}

	addr, _ := httpConfig.Get("addr", ":34000")

	listener, err := server.Listen(addr)
	if err != nil {
		slog.Error("failed to bind http tracker, skipping", "err", err)
		return 0
	}

	opts := server.Options{}
	opts.ReadTimeout, _ = httpConfig.GetSeconds("read_timeout", 2)
	opts.WriteTimeout, _ = httpConfig.GetSeconds("write_timeout", 2)
	opts.ProxyHeader, _ = httpConfig.Get("proxy_header", "")
	opts.AdminToken, _ = httpConfig.Get("admin_token", "")
	opts.AnnounceInterval, _ = intervals.GetSeconds("announce", 1800)
	opts.MinAnnounceInterval, _ = intervals.GetSeconds("min_announce", 900)
	opts.AnnounceDrift, _ = intervals.GetSeconds("announce_drift", 300)
	opts.ScrapeInterval, _ = intervals.GetSeconds("min_scrape", 900)
	opts.DefaultNumWant, _ = announceConfig.GetInt("numwant", 25)
	opts.MaxNumWant, _ = announceConfig.GetInt("max_numwant", 50)

	s := server.New(reg, opts)

	g.Go(func() error {
		return s.Serve(listener)
	})

	g.Go(func() error {
		<-ctx.Done()

		slog.Info("now closed and not accepting any new connections")

		return s.Shutdown()
	})

	return 1
}
