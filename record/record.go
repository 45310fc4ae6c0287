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

package record

import (
	"bytes"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"kuroneko/types"
	"kuroneko/util"
)

var (
	mu      sync.RWMutex
	channel chan []byte
	done    chan struct{}
)

func getFile(dir string, t time.Time) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, "events_"+t.Format("2006-01-02T15")+".json"),
		os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
}

// Init starts writing announce events to hourly files under dir. Until Init succeeds Record is a no-op.
func Init(dir string) error {
	if err := os.Mkdir(dir, 0755); err != nil && !os.IsExist(err) {
		return err
	}

	start := time.Now()

	file, err := getFile(dir, start)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	channel = make(chan []byte, 1024)
	done = make(chan struct{})

	go write(dir, start, file, channel, done)

	return nil
}

func write(dir string, start time.Time, file *os.File, channel <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for buf := range channel {
		if now := time.Now(); now.Hour() != start.Hour() {
			next, err := getFile(dir, now)
			if err != nil {
				slog.Error("failed to rotate event file", "err", err)
			} else {
				_ = file.Close()
				file, start = next, now
			}
		}

		if _, err := file.Write(buf); err != nil {
			slog.Error("failed to write event", "err", err)
		}
	}

	if err := file.Close(); err != nil {
		slog.Error("failed to close event file", "err", err)
	}
}

// Close flushes pending events and stops recording
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if channel == nil {
		return
	}

	close(channel)
	<-done

	channel = nil
}

// Record queues one announce. Announces that report no transfer are skipped.
func Record(infoHash types.InfoHash, peerID types.PeerID, addr netip.AddrPort, event types.Event,
	up, down, left uint64) {
	if up == 0 && down == 0 {
		return
	}

	mu.RLock()
	defer mu.RUnlock()

	if channel == nil {
		return
	}

	b := make([]byte, 0, 160)
	buf := bytes.NewBuffer(b)

	buf.WriteString("[\"")
	buf.WriteString(infoHash.String())
	buf.WriteString("\",\"")
	buf.Write(hexID(peerID))
	buf.WriteString("\",\"")
	buf.WriteString(addr.Addr().String())
	buf.WriteString("\",")
	buf.WriteString(strconv.FormatUint(uint64(addr.Port()), 10))
	buf.WriteString(",\"")
	buf.WriteString(event.String())
	buf.WriteString("\",")
	buf.WriteString(util.Btoa(left == 0))
	buf.WriteString(",")
	buf.WriteString(strconv.FormatUint(up, 10))
	buf.WriteString(",")
	buf.WriteString(strconv.FormatUint(down, 10))
	buf.WriteString(",")
	buf.WriteString(strconv.FormatUint(left, 10))
	buf.WriteString("]\n")

	channel <- buf.Bytes()
}

func hexID(id types.PeerID) []byte {
	b, _ := id.MarshalText()

	return b
}
