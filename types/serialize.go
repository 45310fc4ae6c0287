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

package types

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// SwarmCacheVersion is bumped whenever the binary layout of SwarmSnapshot or Peer changes
const SwarmCacheVersion = 1

// SwarmCacheFile holds filename used by serializer for this type
var SwarmCacheFile = "swarm-cache"

// SwarmSnapshot is a detached copy of one swarm
type SwarmSnapshot struct {
	Completed uint32
	Peers     []Peer
}

// Snapshot is a point-in-time copy of every swarm in a registry
type Snapshot map[InfoHash]*SwarmSnapshot

type readerAndByteReader interface {
	io.Reader
	io.ByteReader
}

func (s *SwarmSnapshot) Append(preAllocatedBuffer []byte) (buf []byte) {
	buf = preAllocatedBuffer
	buf = binary.LittleEndian.AppendUint32(buf, s.Completed)
	buf = binary.AppendUvarint(buf, uint64(len(s.Peers)))

	for i := range s.Peers {
		buf = s.Peers[i].Append(buf)
	}

	return buf
}

func (s *SwarmSnapshot) Load(_ uint64, reader readerAndByteReader) (err error) {
	if err = binary.Read(reader, binary.LittleEndian, &s.Completed); err != nil {
		return err
	}

	var n uint64

	if n, err = binary.ReadUvarint(reader); err != nil {
		return err
	}

	s.Peers = make([]Peer, n)

	for i := range s.Peers {
		if err = s.Peers[i].Load(reader); err != nil {
			return err
		}
	}

	return nil
}

func WriteSerializeHeader(writer io.Writer, n int, version uint64) (err error) {
	var varIntBuf [binary.MaxVarintLen64]byte

	if _, err = writer.Write(varIntBuf[:binary.PutUvarint(varIntBuf[:], version)]); err != nil {
		return err
	}

	if _, err = writer.Write(varIntBuf[:binary.PutUvarint(varIntBuf[:], uint64(n))]); err != nil {
		return err
	}

	return nil
}

var errUnsupportedVersion = errors.New("unsupported version")

func LoadSerializeHeader(reader readerAndByteReader, maxSupportedVersion uint64) (n int, version uint64, err error) {
	var records uint64

	if version, err = binary.ReadUvarint(reader); err != nil {
		return 0, 0, err
	}

	if version == 0 || version > maxSupportedVersion {
		return 0, version, errUnsupportedVersion
	}

	if records, err = binary.ReadUvarint(reader); err != nil {
		return 0, version, err
	}

	return int(records), version, nil
}

func WriteSnapshot(w io.Writer, snapshot Snapshot) error {
	writer := bufio.NewWriterSize(w, 1024*64)

	if err := WriteSerializeHeader(writer, len(snapshot), SwarmCacheVersion); err != nil {
		return err
	}

	preAllocatedBuffer := make([]byte, 0, 4096)

	for k, v := range snapshot {
		buf := preAllocatedBuffer[:0]
		buf = append(buf, k[:]...)
		buf = v.Append(buf)

		if _, err := writer.Write(buf); err != nil {
			return err
		}

		preAllocatedBuffer = buf
	}

	return writer.Flush()
}

func LoadSnapshot(r io.Reader) (Snapshot, error) {
	reader := bufio.NewReader(r)

	n, version, err := LoadSerializeHeader(reader, SwarmCacheVersion)
	if err != nil {
		return nil, err
	}

	snapshot := make(Snapshot, n)

	var k InfoHash

	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(reader, k[:]); err != nil {
			return nil, err
		}

		s := &SwarmSnapshot{}

		if err := s.Load(version, reader); err != nil {
			return nil, err
		}

		snapshot[k] = s
	}

	return snapshot, nil
}
