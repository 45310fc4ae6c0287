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

package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"kuroneko/collector"
	"kuroneko/types"
)

// CacheFile keeps full swarm state, peers included, in a versioned binary file
type CacheFile struct {
	Path string
}

func NewCacheFile(name string) *CacheFile {
	if name == "" {
		name = types.SwarmCacheFile
	}

	return &CacheFile{Path: fmt.Sprintf("%s.bin", name)}
}

// Save writes to a temporary file first and renames it over the old cache once complete
func (c *CacheFile) Save(ctx context.Context, snapshot types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	slog.Info("serializing swarms to cache file", "file", c.Path)

	start := time.Now()
	tmpFilename := fmt.Sprintf("%s.tmp", c.Path)

	if err := func() error {
		file, err := os.OpenFile(tmpFilename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("couldn't open file for writing: %w", err)
		}

		//goland:noinspection GoUnhandledErrorResult
		defer file.Close()

		if err = types.WriteSnapshot(file, snapshot); err != nil {
			return fmt.Errorf("failed to encode swarms: %w", err)
		}

		return file.Sync()
	}(); err != nil {
		slog.Error("failed to serialize swarms", "err", err, "file", tmpFilename)
		collector.IncrementPersistenceErrors("save")

		return err
	}

	if err := os.Rename(tmpFilename, c.Path); err != nil {
		slog.Error("couldn't write new cache file", "err", err, "file", c.Path)
		collector.IncrementPersistenceErrors("save")

		return err
	}

	elapsedTime := time.Since(start)
	collector.UpdateSerializationTime(elapsedTime)
	slog.Info("done serializing", "elapsed", elapsedTime, "torrents", len(snapshot))

	return nil
}

// Load returns an empty snapshot when no cache file exists yet
func (c *CacheFile) Load(ctx context.Context) (types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("deserializing swarms from cache file", "file", c.Path)

	start := time.Now()

	file, err := os.Open(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("cache file missing", "file", c.Path)
		return types.Snapshot{}, nil
	} else if err != nil {
		slog.Error("couldn't open cache file", "err", err, "file", c.Path)
		collector.IncrementPersistenceErrors("load")

		return nil, err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	snapshot, err := types.LoadSnapshot(file)
	if err != nil {
		slog.Warn("failed to deserialize cache", "err", err, "file", c.Path)
		collector.IncrementPersistenceErrors("load")

		return nil, err
	}

	peers := 0
	for _, s := range snapshot {
		peers += len(s.Peers)
	}

	elapsedTime := time.Since(start)
	collector.UpdateReloadTime(elapsedTime)
	slog.Info("deserialization complete", "elapsed", elapsedTime, "torrents", len(snapshot), "peers", peers)

	return snapshot, nil
}
