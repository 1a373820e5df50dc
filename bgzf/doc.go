// Package bgzf implements the BGZF block-compressed container: a series of
// gzip members, each at most 64 KiB compressed, whose extra field records
// the member size.
//
// Positions inside a BGZF stream are virtual offsets. The upper 48 bits
// hold the compressed offset of a block, the lower 16 bits the offset inside
// that block's decompressed data. A Reader's Tell and Seek produce and
// consume these values; callers should treat them as opaque.
package bgzf
