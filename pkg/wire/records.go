package wire

import (
	"encoding/binary"
	"math"
)

// GetUint16 / GetUint32 / GetUint64 / GetFloat64 decode a big-endian value
// from the front of buf, mirroring the original's interpretByte2/4/8.
func GetUint16(buf []byte) uint16  { return binary.BigEndian.Uint16(buf) }
func GetUint32(buf []byte) uint32  { return binary.BigEndian.Uint32(buf) }
func GetUint64(buf []byte) uint64  { return binary.BigEndian.Uint64(buf) }
func GetFloat64(buf []byte) float64 { return math.Float64frombits(GetUint64(buf)) }

// ProfileDBHeader is profile.db's fixed file header.
type ProfileDBHeader struct {
	NumProfiles     uint32
	ProfInfoSecPtr  uint64
	ProfInfoSecSize uint64
	IDTuplesSecPtr  uint64
	IDTuplesSecSize uint64
}

// Encode appends h's on-disk bytes to dst.
func (h ProfileDBHeader) Encode(dst []byte) []byte {
	dst = append(dst, ProfileDBMagic[:]...)
	dst = append(dst, FormatVersionMajor, FormatVersionMinor)
	dst = PutUint32(dst, h.NumProfiles)
	dst = PutUint16(dst, ProfileDBNumSec)
	dst = PutUint64(dst, h.ProfInfoSecSize)
	dst = PutUint64(dst, h.ProfInfoSecPtr)
	dst = PutUint64(dst, h.IDTuplesSecSize)
	dst = PutUint64(dst, h.IDTuplesSecPtr)

	return dst
}

// DecodeProfileDBHeader parses a profile.db file header from buf.
func DecodeProfileDBHeader(buf []byte) (ProfileDBHeader, error) {
	if err := checkMagic(buf, ProfileDBMagic[:]); err != nil {
		return ProfileDBHeader{}, err
	}

	if err := need(buf, ProfileDBHeaderSize); err != nil {
		return ProfileDBHeader{}, err
	}

	p := ProfileDBMagicSize + 2 // skip magic + major/minor version

	return ProfileDBHeader{
		NumProfiles:     GetUint32(buf[p:]),
		ProfInfoSecSize: GetUint64(buf[p+6:]),
		ProfInfoSecPtr:  GetUint64(buf[p+14:]),
		IDTuplesSecSize: GetUint64(buf[p+22:]),
		IDTuplesSecPtr:  GetUint64(buf[p+30:]),
	}, nil
}

// ProfInfo is one record of profile.db's prof-info section: the id-tuple
// pointer, two reserved 8-byte spares the original format carries but never
// populates, and the per-profile value/context counts and data-block offset.
type ProfInfo struct {
	IDTuplePtr  uint64
	MetadataPtr uint64
	Spare1      uint64
	Spare2      uint64
	NumVals     uint64
	NumNZCtxs   uint32
	Offset      uint64
}

// Encode appends p's on-disk bytes to dst.
func (p ProfInfo) Encode(dst []byte) []byte {
	dst = PutUint64(dst, p.IDTuplePtr)
	dst = PutUint64(dst, p.MetadataPtr)
	dst = PutUint64(dst, p.Spare1)
	dst = PutUint64(dst, p.Spare2)
	dst = PutUint64(dst, p.NumVals)
	dst = PutUint32(dst, p.NumNZCtxs)
	dst = PutUint64(dst, p.Offset)

	return dst
}

// DecodeProfInfo parses one prof-info record from the front of buf.
func DecodeProfInfo(buf []byte) (ProfInfo, error) {
	if err := need(buf, ProfInfoSize); err != nil {
		return ProfInfo{}, err
	}

	return ProfInfo{
		IDTuplePtr:  GetUint64(buf[0:]),
		MetadataPtr: GetUint64(buf[8:]),
		Spare1:      GetUint64(buf[16:]),
		Spare2:      GetUint64(buf[24:]),
		NumVals:     GetUint64(buf[32:]),
		NumNZCtxs:   GetUint32(buf[40:]),
		Offset:      GetUint64(buf[44:]),
	}, nil
}

// IDTupleElem is one (kind, physical, logical) element of an id-tuple.
type IDTupleElem struct {
	Kind     uint16
	Physical uint64
	Logical  uint64
}

// Encode appends e's on-disk bytes to dst.
func (e IDTupleElem) Encode(dst []byte) []byte {
	dst = PutUint16(dst, e.Kind)
	dst = PutUint64(dst, e.Physical)
	dst = PutUint64(dst, e.Logical)

	return dst
}

// DecodeIDTupleElem parses one id-tuple element from the front of buf.
func DecodeIDTupleElem(buf []byte) (IDTupleElem, error) {
	if err := need(buf, IDTupleElemSize); err != nil {
		return IDTupleElem{}, err
	}

	return IDTupleElem{
		Kind:     GetUint16(buf[0:]),
		Physical: GetUint64(buf[2:]),
		Logical:  GetUint64(buf[10:]),
	}, nil
}

// EncodeIDTuple appends an id-tuple's on-disk bytes to dst: a 2-byte element
// count followed by each element's 18 bytes, per the id-tuple section
// contract.
func EncodeIDTuple(dst []byte, elems []IDTupleElem) []byte {
	dst = PutUint16(dst, uint16(len(elems))) //nolint:gosec

	for _, e := range elems {
		dst = e.Encode(dst)
	}

	return dst
}

// DecodeIDTuple parses a length-prefixed id-tuple from the front of buf.
func DecodeIDTuple(buf []byte) ([]IDTupleElem, error) {
	if err := need(buf, IDTupleLenSize); err != nil {
		return nil, err
	}

	n := int(GetUint16(buf))
	buf = buf[IDTupleLenSize:]

	elems := make([]IDTupleElem, n)

	for i := range elems {
		e, err := DecodeIDTupleElem(buf)
		if err != nil {
			return nil, err
		}

		elems[i] = e
		buf = buf[IDTupleElemSize:]
	}

	return elems, nil
}

// SizeofIDTuple returns the on-disk byte size of an id-tuple with n elements,
// including its 2-byte length prefix.
func SizeofIDTuple(n int) uint64 {
	return IDTupleLenSize + uint64(n)*IDTupleElemSize //nolint:gosec
}

// MVPair is one (value, metric-id) pair in a profile's sparse metric blob.
type MVPair struct {
	Value    float64
	MetricID uint16
}

func (p MVPair) Encode(dst []byte) []byte {
	dst = PutFloat64(dst, p.Value)
	dst = PutUint16(dst, p.MetricID)

	return dst
}

func DecodeMVPair(buf []byte) (MVPair, error) {
	if err := need(buf, MVPairSize); err != nil {
		return MVPair{}, err
	}

	return MVPair{Value: GetFloat64(buf[0:]), MetricID: GetUint16(buf[8:])}, nil
}

// CIPair is one (context-id, mv-index) pair in a profile's context index.
// CtxID == LastNodeEnd marks the terminating sentinel, in which case Index
// holds the total mv-pair count.
type CIPair struct {
	CtxID uint32
	Index uint64
}

func (p CIPair) Encode(dst []byte) []byte {
	dst = PutUint32(dst, p.CtxID)
	dst = PutUint64(dst, p.Index)

	return dst
}

func DecodeCIPair(buf []byte) (CIPair, error) {
	if err := need(buf, CIPairSize); err != nil {
		return CIPair{}, err
	}

	return CIPair{CtxID: GetUint32(buf[0:]), Index: GetUint64(buf[4:])}, nil
}

// CCTDBHeader is cct.db's fixed file header.
type CCTDBHeader struct {
	NumCtxs        uint32
	CtxInfoSecPtr  uint64
	CtxInfoSecSize uint64
}

func (h CCTDBHeader) Encode(dst []byte) []byte {
	dst = append(dst, CCTDBMagic[:]...)
	dst = append(dst, FormatVersionMajor, FormatVersionMinor)
	dst = PutUint32(dst, h.NumCtxs)
	dst = PutUint16(dst, CCTDBNumSec)
	dst = PutUint64(dst, h.CtxInfoSecSize)
	dst = PutUint64(dst, h.CtxInfoSecPtr)

	return dst
}

func DecodeCCTDBHeader(buf []byte) (CCTDBHeader, error) {
	if err := checkMagic(buf, CCTDBMagic[:]); err != nil {
		return CCTDBHeader{}, err
	}

	if err := need(buf, CCTDBHeaderSize); err != nil {
		return CCTDBHeader{}, err
	}

	p := CCTDBMagicSize + 2 // skip magic + major/minor version

	return CCTDBHeader{
		NumCtxs:        GetUint32(buf[p:]),
		CtxInfoSecSize: GetUint64(buf[p+6:]),
		CtxInfoSecPtr:  GetUint64(buf[p+14:]),
	}, nil
}

// CtxInfo is one record of cct.db's ctx-info section.
type CtxInfo struct {
	CtxID     uint32
	NumVals   uint64
	NumNZMids uint16
	Offset    uint64
}

func (c CtxInfo) Encode(dst []byte) []byte {
	dst = PutUint32(dst, c.CtxID)
	dst = PutUint64(dst, c.NumVals)
	dst = PutUint16(dst, c.NumNZMids)
	dst = PutUint64(dst, c.Offset)

	return dst
}

func DecodeCtxInfo(buf []byte) (CtxInfo, error) {
	if err := need(buf, CtxInfoSize); err != nil {
		return CtxInfo{}, err
	}

	return CtxInfo{
		CtxID:     GetUint32(buf[0:]),
		NumVals:   GetUint64(buf[4:]),
		NumNZMids: GetUint16(buf[12:]),
		Offset:    GetUint64(buf[14:]),
	}, nil
}

// VPPair is one (value, profile-index) pair in a context's transposed blob.
type VPPair struct {
	Value     float64
	ProfIndex uint32
}

func (p VPPair) Encode(dst []byte) []byte {
	dst = PutFloat64(dst, p.Value)
	dst = PutUint32(dst, p.ProfIndex)

	return dst
}

func DecodeVPPair(buf []byte) (VPPair, error) {
	if err := need(buf, VPPairSize); err != nil {
		return VPPair{}, err
	}

	return VPPair{Value: GetFloat64(buf[0:]), ProfIndex: GetUint32(buf[8:])}, nil
}

// MIPair is one (metric-id, start-offset) entry in a context's metric-index
// table. MetricID == LastMidEnd marks the terminating sentinel, in which
// case StartOffset holds the total vp-pair count for the context.
type MIPair struct {
	MetricID    uint16
	StartOffset uint64
}

func (p MIPair) Encode(dst []byte) []byte {
	dst = PutUint16(dst, p.MetricID)
	dst = PutUint64(dst, p.StartOffset)

	return dst
}

func DecodeMIPair(buf []byte) (MIPair, error) {
	if err := need(buf, MIPairSize); err != nil {
		return MIPair{}, err
	}

	return MIPair{MetricID: GetUint16(buf[0:]), StartOffset: GetUint64(buf[2:])}, nil
}

// TraceFileHeader is trace.db's fixed file header.
type TraceFileHeader struct {
	SzCtxTraces uint64
	PCtxTraces  uint64
}

func (h TraceFileHeader) Encode(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, TraceDBMagic[:]...)
	dst = append(dst, FormatVersionMajor, FormatVersionMinor)
	dst = PutUint64(dst, h.SzCtxTraces)
	dst = PutUint64(dst, h.PCtxTraces)

	return padTo(dst, start, TraceFileHeaderSize)
}

func DecodeTraceFileHeader(buf []byte) (TraceFileHeader, error) {
	if err := checkMagic(buf, TraceDBMagic[:]); err != nil {
		return TraceFileHeader{}, err
	}

	if err := need(buf, TraceFileHeaderSize); err != nil {
		return TraceFileHeader{}, err
	}

	p := TraceDBMagicSize + 2 // skip magic + major/minor version

	return TraceFileHeader{
		SzCtxTraces: GetUint64(buf[p:]),
		PCtxTraces:  GetUint64(buf[p+8:]),
	}, nil
}

// TraceSectionHeader is the ctx-trace section header following the file header.
type TraceSectionHeader struct {
	PTraces      uint64
	NTraces      uint32
	MinTimestamp uint64
	MaxTimestamp uint64
}

func (h TraceSectionHeader) Encode(dst []byte) []byte {
	start := len(dst)
	dst = PutUint64(dst, h.PTraces)
	dst = PutUint32(dst, h.NTraces)
	dst = PutUint64(dst, h.MinTimestamp)
	dst = PutUint64(dst, h.MaxTimestamp)

	return padTo(dst, start, TraceSectionHeaderSize)
}

func DecodeTraceSectionHeader(buf []byte) (TraceSectionHeader, error) {
	if err := need(buf, TraceSectionHeaderSize); err != nil {
		return TraceSectionHeader{}, err
	}

	return TraceSectionHeader{
		PTraces:      GetUint64(buf[0:]),
		NTraces:      GetUint32(buf[8:]),
		MinTimestamp: GetUint64(buf[12:]),
		MaxTimestamp: GetUint64(buf[20:]),
	}, nil
}

// TraceHeader is one per-thread trace-header record.
type TraceHeader struct {
	ProfIndex uint32
	PStart    uint64
	PEnd      uint64
}

func (h TraceHeader) Encode(dst []byte) []byte {
	start := len(dst)
	dst = PutUint32(dst, h.ProfIndex)
	dst = PutUint64(dst, h.PStart)
	dst = PutUint64(dst, h.PEnd)

	return padTo(dst, start, TraceHeaderSize)
}

func DecodeTraceHeader(buf []byte) (TraceHeader, error) {
	if err := need(buf, TraceHeaderSize); err != nil {
		return TraceHeader{}, err
	}

	return TraceHeader{
		ProfIndex: GetUint32(buf[0:]),
		PStart:    GetUint64(buf[4:]),
		PEnd:      GetUint64(buf[12:]),
	}, nil
}

// TraceSample is one (timestamp, context-id) timeline sample.
type TraceSample struct {
	TimestampNanos uint64
	CtxID          uint32
}

func (s TraceSample) Encode(dst []byte) []byte {
	dst = PutUint64(dst, s.TimestampNanos)
	dst = PutUint32(dst, s.CtxID)

	return dst
}

func DecodeTraceSample(buf []byte) (TraceSample, error) {
	if err := need(buf, TraceSampleSize); err != nil {
		return TraceSample{}, err
	}

	return TraceSample{TimestampNanos: GetUint64(buf[0:]), CtxID: GetUint32(buf[8:])}, nil
}

// EncodeProfileDBFooter appends profile.db's trailing sentinel to dst.
func EncodeProfileDBFooter(dst []byte) []byte {
	return append(dst, ProfileDBFooterMagic[:]...)
}

// EncodeCCTDBFooter appends cct.db's trailing sentinel to dst.
func EncodeCCTDBFooter(dst []byte) []byte {
	return append(dst, CCTDBFooterMagic[:]...)
}

// EncodeTraceDBFooter appends trace.db's trailing sentinel to dst.
func EncodeTraceDBFooter(dst []byte) []byte {
	return append(dst, TraceDBFooterMagic[:]...)
}

// padTo pads dst out to start+size bytes with zeroes.
func padTo(dst []byte, start, size int) []byte {
	for len(dst)-start < size {
		dst = append(dst, 0)
	}

	return dst
}
