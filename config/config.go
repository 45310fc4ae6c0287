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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

// DefaultFile is read when no path is given on the command line
const DefaultFile = "config.json"

type Map map[string]interface{}

// Load reads a JSON config file. A missing file yields an empty Map so that
// every consumer falls back to its defaults; a malformed file is an error.
func Load(path string) (Map, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("unable to open config file, defaults will be used", "path", path, "err", err)
		return Map{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	decoder := json.NewDecoder(f)
	decoder.UseNumber()

	config := Map{}

	if err = decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return config, nil
}

func (m Map) Get(s string, defaultValue string) (string, bool) {
	if result, exists := m[s].(string); exists {
		return result, true
	}

	return defaultValue, false
}

func (m Map) GetInt(s string, defaultValue int) (int, bool) {
	if result, exists := m[s].(json.Number); exists {
		res, err := result.Int64()
		if err != nil {
			return defaultValue, false
		}

		return int(res), true
	}

	return defaultValue, false
}

func (m Map) GetFloat(s string, defaultValue float64) (float64, bool) {
	if result, exists := m[s].(json.Number); exists {
		res, err := result.Float64()
		if err != nil {
			return defaultValue, false
		}

		return res, true
	}

	return defaultValue, false
}

// GetSeconds reads an integer number of seconds
func (m Map) GetSeconds(s string, defaultValue int) (time.Duration, bool) {
	seconds, exists := m.GetInt(s, defaultValue)
	return time.Duration(seconds) * time.Second, exists
}

func (m Map) GetBool(s string, defaultValue bool) (bool, bool) {
	if result, exists := m[s].(bool); exists {
		return result, true
	}

	return defaultValue, false
}

// Section returns a nested object. Lookups on a missing section return defaults.
func (m Map) Section(s string) Map {
	result, _ := m[s].(map[string]interface{})
	return result
}
