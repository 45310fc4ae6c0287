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

package util

import (
	"bytes"
	"sync"
)

// BufferPool hands out reset buffers with at least bufSize bytes of capacity
type BufferPool struct {
	pool    sync.Pool
	bufSize int
}

func NewBufferPool(bufSize int) *BufferPool {
	p := &BufferPool{bufSize: bufSize}
	p.pool.New = func() any {
		internalBuf := make([]byte, 0, bufSize)
		return bytes.NewBuffer(internalBuf)
	}

	return p
}

func (pool *BufferPool) Take() (buf *bytes.Buffer) {
	buf = pool.pool.Get().(*bytes.Buffer)
	buf.Reset()

	return
}

// TakeSlice returns a buffer together with its full backing array for use as a read target
func (pool *BufferPool) TakeSlice() (*bytes.Buffer, []byte) {
	buf := pool.Take()
	buf.Grow(pool.bufSize)

	raw := buf.AvailableBuffer()

	return buf, raw[:cap(raw)]
}

func (pool *BufferPool) Give(buf *bytes.Buffer) {
	pool.pool.Put(buf)
}
