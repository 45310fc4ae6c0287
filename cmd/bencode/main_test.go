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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpand(t *testing.T) {
	infoHash := "\x72\xef\x20\xed\xdc\xb5\x43\x8f\x73\xb6\xd8\x8d\x78\xc4\xdf\xc1\x66\x7b\x89\x38"

	input := map[string]interface{}{
		"complete": int64(1),
		"peers":    "\x7f\x00\x00\x01\x1a\xe1\x0a\x00\x00\x02\x00\x50",
		"peers6":   "\x20\x01\x0d\xb8\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x01\x1a\xe1",
		"files": map[string]interface{}{
			infoHash: map[string]interface{}{"complete": int64(2)},
		},
		"list": []interface{}{
			map[string]interface{}{"peer id": "\x01\x02", "ip": "127.0.0.1"},
		},
	}

	expected := map[string]interface{}{
		"complete": int64(1),
		"peers":    []string{"127.0.0.1:6881", "10.0.0.2:80"},
		"peers6":   []string{"[2001:db8::1]:6881"},
		"files": map[string]interface{}{
			"72ef20eddcb5438f73b6d88d78c4dfc1667b8938": map[string]interface{}{"complete": int64(2)},
		},
		"list": []interface{}{
			map[string]interface{}{"peer id": "0102", "ip": "127.0.0.1"},
		},
	}

	if diff := cmp.Diff(expected, expand("", input)); diff != "" {
		t.Fatalf("Unexpected expansion (-want +got):\n%s", diff)
	}
}

func TestExpandMalformedPeers(t *testing.T) {
	input := map[string]interface{}{"peers": "\x01\x02\x03"}

	got := expand("", input).(map[string]interface{})
	if got["peers"] != "\x01\x02\x03" {
		t.Fatalf("Expected malformed peers to be kept as is, got %v", got["peers"])
	}
}
