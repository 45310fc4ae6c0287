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
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"kuroneko/collector"
	"kuroneko/config"
	"kuroneko/types"

	"github.com/go-sql-driver/mysql"
)

const (
	schema = "CREATE TABLE IF NOT EXISTS torrents (" +
		"info_hash BINARY(20) NOT NULL PRIMARY KEY, " +
		"completed INT UNSIGNED NOT NULL DEFAULT 0)"

	loadQuery = "SELECT info_hash, completed FROM torrents"

	defaultBatchSize = 1000
)

var defaultDsn = map[string]string{
	"username": "chihaya",
	"password": "",
	"proto":    "tcp",
	"addr":     "127.0.0.1:3306",
	"database": "chihaya",
}

var errDeadlockRetriesExceeded = errors.New("deadlock retries exceeded")

// DSN builds the connection string from the database config section.
// DB_DSN in the environment takes precedence, which is useful for tests.
func DSN(databaseConfig config.Map) string {
	// DSN Format: username:password@protocol(address)/dbname?param=value
	if databaseDsn := os.Getenv("DB_DSN"); databaseDsn != "" {
		return databaseDsn
	}

	dbUsername, _ := databaseConfig.Get("username", defaultDsn["username"])
	dbPassword, _ := databaseConfig.Get("password", defaultDsn["password"])
	dbProto, _ := databaseConfig.Get("proto", defaultDsn["proto"])
	dbAddr, _ := databaseConfig.Get("addr", defaultDsn["addr"])
	dbDatabase, _ := databaseConfig.Get("database", defaultDsn["database"])

	return fmt.Sprintf("%s:%s@%s(%s)/%s",
		dbUsername,
		dbPassword,
		dbProto,
		dbAddr,
		dbDatabase,
	)
}

type MySQLOptions struct {
	DSN string

	// DeadlockPause is multiplied by the attempt number between retries
	DeadlockPause   time.Duration
	DeadlockRetries int

	BatchSize int
}

// MySQL keeps only completed counters. Peers are not persisted, clients re-announce after a restart.
type MySQL struct {
	db   *sql.DB
	opts MySQLOptions
}

func OpenMySQL(ctx context.Context, opts MySQLOptions) (*MySQL, error) {
	if opts.DeadlockPause <= 0 {
		opts.DeadlockPause = time.Second
	}

	if opts.DeadlockRetries <= 0 {
		opts.DeadlockRetries = 5
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	sqlDb, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to database: %w", err)
	}

	if err = sqlDb.PingContext(ctx); err != nil {
		_ = sqlDb.Close()
		return nil, fmt.Errorf("couldn't ping database: %w", err)
	}

	m := &MySQL{db: sqlDb, opts: opts}

	if err = m.perform(ctx, func() error {
		_, err := sqlDb.ExecContext(ctx, schema)
		return err
	}); err != nil {
		_ = sqlDb.Close()
		return nil, fmt.Errorf("couldn't create schema: %w", err)
	}

	return m, nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

func (m *MySQL) Load(ctx context.Context) (types.Snapshot, error) {
	start := time.Now()
	snapshot := make(types.Snapshot)

	err := m.perform(ctx, func() error {
		rows, err := m.db.QueryContext(ctx, loadQuery)
		if err != nil {
			return err
		}

		//goland:noinspection GoUnhandledErrorResult
		defer rows.Close()

		for rows.Next() {
			var (
				infoHash  types.InfoHash
				completed uint32
			)

			if err = rows.Scan(&infoHash, &completed); err != nil {
				return err
			}

			snapshot[infoHash] = &types.SwarmSnapshot{Completed: completed}
		}

		return rows.Err()
	})
	if err != nil {
		slog.Error("failed to load torrents from database", "err", err)
		collector.IncrementPersistenceErrors("load")

		return nil, err
	}

	elapsedTime := time.Since(start)
	collector.UpdateReloadTime(elapsedTime)
	slog.Info("loaded torrents from database", "elapsed", elapsedTime, "torrents", len(snapshot))

	return snapshot, nil
}

// Save upserts the completed counter of every swarm in batches
func (m *MySQL) Save(ctx context.Context, snapshot types.Snapshot) error {
	start := time.Now()

	keys := make([]types.InfoHash, 0, len(snapshot))
	for infoHash := range snapshot {
		keys = append(keys, infoHash)
	}

	// rows are always written in key order
	slices.SortFunc(keys, func(a, b types.InfoHash) int {
		return bytes.Compare(a[:], b[:])
	})

	var (
		query bytes.Buffer
		args  = make([]any, 0, 2*m.opts.BatchSize)
	)

	for batch := range slices.Chunk(keys, m.opts.BatchSize) {
		query.Reset()
		query.WriteString("INSERT INTO torrents (info_hash, completed) VALUES ")

		args = args[:0]

		for i, infoHash := range batch {
			if i > 0 {
				query.WriteString(",")
			}

			query.WriteString("(?,?)")

			args = append(args, infoHash, snapshot[infoHash].Completed)
		}

		query.WriteString(" ON DUPLICATE KEY UPDATE completed = GREATEST(completed, VALUES(completed))")

		if err := m.perform(ctx, func() error {
			_, err := m.db.ExecContext(ctx, query.String(), args...)
			return err
		}); err != nil {
			slog.Error("failed to flush torrents to database", "err", err)
			collector.IncrementPersistenceErrors("save")

			return err
		}
	}

	elapsedTime := time.Since(start)
	collector.UpdateSerializationTime(elapsedTime)
	slog.Info("flushed torrents to database", "elapsed", elapsedTime, "torrents", len(keys))

	return nil
}

// perform retries exec on lock wait timeouts and deadlocks with a linearly growing pause
func (m *MySQL) perform(ctx context.Context, exec func() error) error {
	var (
		err  error
		wait time.Duration
	)

	for tries := 1; tries <= m.opts.DeadlockRetries; tries++ {
		if err = exec(); err == nil {
			return nil
		}

		var merr *mysql.MySQLError
		if !errors.As(err, &merr) {
			return err
		}

		if merr.Number != 1213 && merr.Number != 1205 {
			slog.Error("sql error", "number", merr.Number, "message", merr.Message)
			collector.IncrementSQLErrorCount()

			return err
		}

		wait = m.opts.DeadlockPause * time.Duration(tries)
		slog.Warn("deadlock found", "wait", wait, "try", tries, "max", m.opts.DeadlockRetries)

		if tries == 1 {
			collector.IncrementDeadlockCount()
		}

		collector.IncrementDeadlockTime(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	slog.Error("deadlocked too many times, giving up", "tries", m.opts.DeadlockRetries)
	collector.IncrementDeadlockAborted()

	return fmt.Errorf("%w: %w", errDeadlockRetriesExceeded, err)
}
