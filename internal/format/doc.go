// Package format defines the on-disk layout of a capture index.
//
// An index file is a base header, one sub-header per active index mode, and
// a run of fixed-size records:
//
//	[FileHeader][OrdinalHeader?][TemporalHeader?][records...]
//
// All integers are fixed width in the host's native byte order. The format
// carries no endianness marker, so an index is only portable between hosts
// of the same byte order.
package format
