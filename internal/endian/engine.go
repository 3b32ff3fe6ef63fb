// Package endian names the two concrete byte orders this repository's
// on-disk formats use. spec.md §9 calls this out explicitly as a
// format-level contract, not an implementation choice: the WAL is
// big-endian (to keep a stable on-disk order distinct from the codec's
// little-endian framing) while the SSTable and Gorilla codec are
// little-endian.
//
// This mirrors arloliu/mebo/endian.EndianEngine (which combines
// binary.ByteOrder and binary.AppendByteOrder into one interface so
// standard library binary.BigEndian/binary.LittleEndian satisfy it
// directly) but is sized down to the exact two engines this repository
// needs instead of a general pluggable-engine registry — there is no third
// engine to ever plug in here.
package endian

import "encoding/binary"

// Engine combines the read/write and append byte-order operations used
// across the WAL and SSTable encoders/decoders.
type Engine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// WAL is the byte order of every multi-byte integer in a WAL record.
var WAL Engine = binary.BigEndian

// Storage is the byte order of every multi-byte integer in the SSTable
// file format and the Gorilla block container.
var Storage Engine = binary.LittleEndian
