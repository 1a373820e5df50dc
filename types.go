package pcapidx

import "github.com/meigma/pcapidx/internal/format"

// Re-export index format types for the public API.
type (
	// Mode is the index-mode bitmask stored in the file header.
	Mode = format.Mode

	// Timestamp is a (seconds, microseconds) capture timestamp.
	Timestamp = format.Timestamp

	// Span is a Timestamp read as an interval, broken into days, hours,
	// minutes, seconds and microseconds.
	Span = format.Span

	// Locator is the opaque capture position stored in index records.
	Locator = format.Locator

	// FileHeader is the fixed base header of an index file.
	FileHeader = format.FileHeader

	// OrdinalHeader is the packet-number sub-header.
	OrdinalHeader = format.OrdinalHeader

	// TemporalHeader is the timestamp sub-header.
	TemporalHeader = format.TemporalHeader

	// OrdinalRecord is one packet-number index record.
	OrdinalRecord = format.OrdinalRecord

	// TemporalRecord is one timestamp index record.
	TemporalRecord = format.TemporalRecord
)

// Index modes.
const (
	ModeOrdinal  = format.ModeOrdinal
	ModeTemporal = format.ModeTemporal
)

// Format constants.
const (
	IndexMagic   = format.Magic
	MinIndexSize = format.MinIndexSize
)

// Re-export timestamp constructors and mode lookup.
var (
	TimestampFromTime   = format.TimestampFromTime
	TimestampFromMicros = format.TimestampFromMicros
	ModeByName          = format.ModeByName
)

// Version of the tool. The major and minor parts match the index format
// version it writes.
const Version = "1.3.0"
