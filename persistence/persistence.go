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

// Package persistence stores swarm snapshots between restarts.
package persistence

import (
	"context"

	"kuroneko/types"
)

// Gateway loads a snapshot at startup and saves one at shutdown.
// Implementations log and count their own failures; callers treat errors as non-fatal.
type Gateway interface {
	Load(ctx context.Context) (types.Snapshot, error)
	Save(ctx context.Context, snapshot types.Snapshot) error
}

var (
	_ Gateway = (*CacheFile)(nil)
	_ Gateway = (*MySQL)(nil)
)
