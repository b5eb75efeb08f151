// Package wire implements the big-endian, fixed-layout binary codec shared
// by profile.db, cct.db, and trace.db. Every record size here is part of
// the external format contract described in FORMATS.md: a reader on any
// rank must be able to interpret another rank's bytes without negotiation,
// so nothing here may change without also changing the format version. The
// literal magic strings, version bytes, and footer constants are lifted
// verbatim from the format this reimplements and must never be changed.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FormatVersionMajor and FormatVersionMinor are the 1-byte version fields
// written into every file header.
const (
	FormatVersionMajor byte = 1
	FormatVersionMinor byte = 0
)

// Sentinel values terminating a variable-length run of records.
const (
	// LastNodeEnd terminates a profile's ci-pair list.
	LastNodeEnd uint32 = 0xFFFFFFFF
	// LastMidEnd terminates a context's metric-index table.
	LastMidEnd uint16 = 0xFFFF
)

// Record sizes, in bytes. Each matches a row of the format tables in
// FORMATS.md.
const (
	// ProfileDBMagicSize is the 16-byte magic opening a profile.db file.
	ProfileDBMagicSize = 16
	// ProfileDBNumSec is the fixed section count profile.db's header reports.
	ProfileDBNumSec uint16 = 2
	// ProfileDBHeaderSize is the fixed profile.db file header: magic(16) +
	// major(1) + minor(1) + num-profiles(4) + num-sections(2) +
	// prof-info-size(8) + prof-info-ptr(8) + id-tuples-size(8) + id-tuples-ptr(8).
	ProfileDBHeaderSize = ProfileDBMagicSize + 1 + 1 + 4 + 2 + 8 + 8 + 8 + 8 // 56

	// ProfInfoSize is one profile-info record within profile.db's prof-info
	// section: id-tuple-ptr(8) + metadata-ptr(8) + spare(8) + spare(8) +
	// num-vals(8) + num-nzctxs(4) + offset(8).
	ProfInfoSize = 8 + 8 + 8 + 8 + 8 + 4 + 8 // 52

	// IDTupleElemSize is one (kind, physical, logical) element of an id-tuple.
	IDTupleElemSize = 2 + 8 + 8 // 18
	// IDTupleLenSize is the 2-byte element-count prefix leading every id-tuple.
	IDTupleLenSize = 2

	// MVPairSize is one (value, metric-id) pair in a profile's sparse metric blob.
	MVPairSize = 8 + 2 // 10

	// CIPairSize is one (context-id, mv-index) pair in a profile's context index.
	CIPairSize = 4 + 8 // 12

	// CCTDBMagicSize is the 16-byte magic opening a cct.db file.
	CCTDBMagicSize = 16
	// CCTDBNumSec is the fixed section count cct.db's header reports.
	CCTDBNumSec uint16 = 1
	// CCTDBHeaderSize is the fixed cct.db file header: magic(16) + major(1) +
	// minor(1) + num-contexts(4) + num-sections(2) + ctx-info-size(8) +
	// ctx-info-ptr(8).
	CCTDBHeaderSize = CCTDBMagicSize + 1 + 1 + 4 + 2 + 8 + 8 // 40

	// CtxInfoSize is one per-context record in cct.db's ctx-info section.
	CtxInfoSize = 4 + 8 + 2 + 8 // 22

	// VPPairSize is one (value, profile-index) pair in a context's transposed blob.
	VPPairSize = 8 + 4 // 12

	// MIPairSize is one (metric-id, start-offset) pair in a context's metric-index table.
	MIPairSize = 2 + 8 // 10

	// FooterSize is the trailing sentinel written at the end of every file.
	FooterSize = 8

	// TraceDBMagicSize is the 16-byte magic opening a trace.db file.
	TraceDBMagicSize = 16
	// TraceFileHeaderSize is the fixed trace.db file header, 8-byte aligned:
	// magic(16) + major(1) + minor(1) + sz-ctx-traces(8) + p-ctx-traces(8),
	// padded from 34 up to 40.
	TraceFileHeaderSize = 40
	// TraceSectionHeaderSize is the ctx-trace section header (8-byte aligned).
	TraceSectionHeaderSize = 32
	// TraceHeaderSize is one per-thread trace-header record.
	TraceHeaderSize = 4 + 8 + 8 + 4 // 24
	// TraceSampleSize is one (timestamp, context-id) sample.
	TraceSampleSize = 8 + 4 // 12
)

// ProfileDBMagic is the 16-byte magic opening a profile.db file: "HPCPROF-"
// followed by "tmsdb" and NUL padding out to 16 bytes.
var ProfileDBMagic = [ProfileDBMagicSize]byte{
	'H', 'P', 'C', 'P', 'R', 'O', 'F', '-', 't', 'm', 's', 'd', 'b', '_', '_', '_',
}

// CCTDBMagic is the 16-byte magic opening a cct.db file: "HPCPROF-" followed
// by "cmsdb" and NUL padding out to 16 bytes.
var CCTDBMagic = [CCTDBMagicSize]byte{
	'H', 'P', 'C', 'P', 'R', 'O', 'F', '-', 'c', 'm', 's', 'd', 'b', '_', '_', '_',
}

// TraceDBMagic is the 16-byte magic opening a trace.db file, following the
// same "HPCPROF-<kind>" convention as ProfileDBMagic and CCTDBMagic.
var TraceDBMagic = [TraceDBMagicSize]byte{
	'H', 'P', 'C', 'P', 'R', 'O', 'F', '-', 't', 'r', 'a', 'c', 'e', '_', '_', '_',
}

// ProfileDBFooterMagic is profile.db's trailing 8-byte sentinel, "PROFDBft".
var ProfileDBFooterMagic = [FooterSize]byte{'P', 'R', 'O', 'F', 'D', 'B', 'f', 't'}

// CCTDBFooterMagic is cct.db's trailing 8-byte sentinel, "CCTDBftr".
var CCTDBFooterMagic = [FooterSize]byte{'C', 'C', 'T', 'D', 'B', 'f', 't', 'r'}

// TraceDBFooterMagic is trace.db's trailing 8-byte sentinel, "TRACEDBf".
var TraceDBFooterMagic = [FooterSize]byte{'T', 'R', 'A', 'C', 'E', 'D', 'B', 'f'}

// ErrShortBuffer is returned when a decode call is given fewer bytes than a record requires.
var ErrShortBuffer = errors.New("wire: buffer too short for record")

// ErrBadMagic is returned when a file's magic bytes don't match the expected format.
var ErrBadMagic = errors.New("wire: bad magic bytes")

func need(buf []byte, n int) error {
	if len(buf) < n {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, len(buf))
	}

	return nil
}

// checkMagic compares the first len(want) bytes of buf against want.
func checkMagic(buf, want []byte) error {
	if err := need(buf, len(want)); err != nil {
		return err
	}

	for i, b := range want {
		if buf[i] != b {
			return fmt.Errorf("%w: got %x want %x", ErrBadMagic, buf[:len(want)], want)
		}
	}

	return nil
}

// PutUint16 / PutUint32 / PutUint64 append big-endian encodings to dst and
// return the extended slice, mirroring the original's insertByte2/4/8 helpers.
func PutUint16(dst []byte, v uint16) []byte {
	var b [2]byte

	binary.BigEndian.PutUint16(b[:], v)

	return append(dst, b[:]...)
}

func PutUint32(dst []byte, v uint32) []byte {
	var b [4]byte

	binary.BigEndian.PutUint32(b[:], v)

	return append(dst, b[:]...)
}

func PutUint64(dst []byte, v uint64) []byte {
	var b [8]byte

	binary.BigEndian.PutUint64(b[:], v)

	return append(dst, b[:]...)
}

func PutFloat64(dst []byte, v float64) []byte {
	return PutUint64(dst, math.Float64bits(v))
}

// Align rounds v up to the next multiple of a, matching the original's align().
func Align(v, a uint64) uint64 {
	if a == 0 {
		return v
	}

	return (v + a - 1) / a * a
}
