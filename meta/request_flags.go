package meta

import (
	"bytes"
	"strconv"
)

// RequestFlags holds the optional flags of a request.
//
// Boolean fields are written as a bare letter when true. Pointer fields,
// Opaque and Mode are written only when set: absence means the flag is
// omitted from the command line, not that it is zero.
//
// The zero value writes nothing.
type RequestFlags struct {
	NoReply          bool // q
	ReturnClientFlag bool // f
	ReturnCASToken   bool // c
	ReturnValue      bool // v
	ReturnTTL        bool // t
	ReturnSize       bool // s
	ReturnLastAccess bool // l
	ReturnFetched    bool // h
	ReturnKey        bool // k
	NoUpdateLRU      bool // u
	MarkStale        bool // I

	CacheTTL        *uint32 // T
	RecacheTTL      *uint32 // R
	VivifyOnMissTTL *uint32 // N
	ClientFlag      *uint32 // F
	MAInitialValue  *uint32 // J
	MADeltaValue    *uint32 // D
	CASToken        *uint32 // C

	// Opaque is echoed back by the server, written verbatim (O).
	Opaque []byte

	// Mode is a single ASCII mode character (M), see the Mode* constants.
	Mode *byte
}

// Ptr returns a pointer to v, for filling optional flag fields:
//
//	flags := &meta.RequestFlags{ReturnValue: true, CacheTTL: meta.Ptr[uint32](60)}
func Ptr[T any](v T) *T {
	return &v
}

// AppendTo appends the serialized flags to dst and returns the extended
// slice. Every token is preceded by a single space, in protocol order:
// booleans first, then valued flags.
//
// A nil receiver appends nothing.
func (f *RequestFlags) AppendTo(dst []byte) []byte {
	if f == nil {
		return dst
	}

	dst = appendBool(dst, FlagNoReply, f.NoReply)
	dst = appendBool(dst, FlagReturnClientFlag, f.ReturnClientFlag)
	dst = appendBool(dst, FlagReturnCAS, f.ReturnCASToken)
	dst = appendBool(dst, FlagReturnValue, f.ReturnValue)
	dst = appendBool(dst, FlagReturnTTL, f.ReturnTTL)
	dst = appendBool(dst, FlagReturnSize, f.ReturnSize)
	dst = appendBool(dst, FlagReturnLastAccess, f.ReturnLastAccess)
	dst = appendBool(dst, FlagReturnFetched, f.ReturnFetched)
	dst = appendBool(dst, FlagReturnKey, f.ReturnKey)
	dst = appendBool(dst, FlagNoUpdateLRU, f.NoUpdateLRU)
	dst = appendBool(dst, FlagMarkStale, f.MarkStale)

	dst = appendUint(dst, FlagCacheTTL, f.CacheTTL)
	dst = appendUint(dst, FlagRecacheTTL, f.RecacheTTL)
	dst = appendUint(dst, FlagVivifyOnMiss, f.VivifyOnMissTTL)
	dst = appendUint(dst, FlagClientFlag, f.ClientFlag)
	dst = appendUint(dst, FlagInitialValue, f.MAInitialValue)
	dst = appendUint(dst, FlagDelta, f.MADeltaValue)
	dst = appendUint(dst, FlagCompareCAS, f.CASToken)

	if f.Opaque != nil {
		dst = append(dst, Space, byte(FlagOpaque))
		dst = append(dst, f.Opaque...)
	}

	// The mode is a character code, not a number: Mode 'A' writes "MA".
	if f.Mode != nil {
		dst = append(dst, Space, byte(FlagMode), *f.Mode)
	}

	return dst
}

// Bytes returns the serialized flags, including the leading space.
func (f *RequestFlags) Bytes() []byte {
	return f.AppendTo(nil)
}

// Equal reports whether f and o carry the same flags.
// Two nil values are equal; a nil value equals the zero value.
func (f *RequestFlags) Equal(o *RequestFlags) bool {
	if f == nil {
		f = &RequestFlags{}
	}
	if o == nil {
		o = &RequestFlags{}
	}

	return f.NoReply == o.NoReply &&
		f.ReturnClientFlag == o.ReturnClientFlag &&
		f.ReturnCASToken == o.ReturnCASToken &&
		f.ReturnValue == o.ReturnValue &&
		f.ReturnTTL == o.ReturnTTL &&
		f.ReturnSize == o.ReturnSize &&
		f.ReturnLastAccess == o.ReturnLastAccess &&
		f.ReturnFetched == o.ReturnFetched &&
		f.ReturnKey == o.ReturnKey &&
		f.NoUpdateLRU == o.NoUpdateLRU &&
		f.MarkStale == o.MarkStale &&
		equalPtr(f.CacheTTL, o.CacheTTL) &&
		equalPtr(f.RecacheTTL, o.RecacheTTL) &&
		equalPtr(f.VivifyOnMissTTL, o.VivifyOnMissTTL) &&
		equalPtr(f.ClientFlag, o.ClientFlag) &&
		equalPtr(f.MAInitialValue, o.MAInitialValue) &&
		equalPtr(f.MADeltaValue, o.MADeltaValue) &&
		equalPtr(f.CASToken, o.CASToken) &&
		equalBlob(f.Opaque, o.Opaque) &&
		equalPtr(f.Mode, o.Mode)
}

func appendBool(dst []byte, flagType FlagType, set bool) []byte {
	if !set {
		return dst
	}
	return append(dst, Space, byte(flagType))
}

func appendUint(dst []byte, flagType FlagType, value *uint32) []byte {
	if value == nil {
		return dst
	}
	dst = append(dst, Space, byte(flagType))
	return strconv.AppendUint(dst, uint64(*value), 10)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// equalBlob distinguishes absent (nil) from present-but-empty.
func equalBlob(a, b []byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return bytes.Equal(a, b)
}
