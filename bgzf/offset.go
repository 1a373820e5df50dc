package bgzf

import "fmt"

// Offset is a BGZF virtual offset.
type Offset uint64

// MakeOffset builds a virtual offset from a compressed block address and an
// offset into that block's decompressed data.
func MakeOffset(block int64, within uint16) Offset {
	return Offset(uint64(block)<<16 | uint64(within)) //nolint:gosec // block addresses are non-negative
}

// Block returns the compressed file offset of the block.
func (o Offset) Block() int64 {
	return int64(o >> 16) //nolint:gosec // 48-bit value
}

// Within returns the offset into the block's decompressed data.
func (o Offset) Within() uint16 {
	return uint16(o & 0xffff)
}

func (o Offset) String() string {
	return fmt.Sprintf("%d:%d", o.Block(), o.Within())
}
