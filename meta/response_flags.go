package meta

import (
	"bytes"
	"math"
)

// ResponseFlags holds the flags decoded from a response header.
//
// Every field is independently optional since the server only returns the
// flags that were requested. Stale has no absent state: a header without
// the X flag is not stale.
type ResponseFlags struct {
	CASToken   *uint32 // c
	Fetched    *bool   // h
	LastAccess *uint32 // l
	TTL        *int32  // t, -1 means no TTL
	ClientFlag *uint32 // f
	Win        *bool   // W (true) or Z (false)
	Stale      bool    // X
	Size       *uint32 // s, echo of the item size
	Opaque     []byte  // O, owned copy
}

// Equal reports whether f and o hold the same values.
func (f *ResponseFlags) Equal(o *ResponseFlags) bool {
	if f == nil || o == nil {
		return f == o
	}

	return equalPtr(f.CASToken, o.CASToken) &&
		equalPtr(f.Fetched, o.Fetched) &&
		equalPtr(f.LastAccess, o.LastAccess) &&
		equalPtr(f.TTL, o.TTL) &&
		equalPtr(f.ClientFlag, o.ClientFlag) &&
		equalPtr(f.Win, o.Win) &&
		f.Stale == o.Stale &&
		equalPtr(f.Size, o.Size) &&
		equalBlob(f.Opaque, o.Opaque)
}

// ParseSuccessHeader decodes the flags of an "HD <flags>*" header line
// (without CRLF).
func ParseSuccessHeader(header []byte) *ResponseFlags {
	return ParseFlags(header, len(TagHeader)+1)
}

// ParseValueHeader decodes a "VA <size> <flags>*" header line (without CRLF).
//
// ok is false when no size follows the tag.
func ParseValueHeader(header []byte) (size uint32, flags *ResponseFlags, ok bool) {
	const sizeStart = len(TagValue) + 1
	if len(header) < sizeStart+1 {
		return 0, nil, false
	}

	size, n, ok := parseUint32(header, sizeStart)
	if !ok {
		return 0, nil, false
	}

	return size, ParseFlags(header, n), true
}

// ParseFlags decodes the flag tokens of header, starting at start.
//
// It never fails: a token that does not parse leaves its field unset and
// scanning resumes at the next space. Unknown flags are skipped. A flag
// that follows a value with no separating space is still decoded, so
// "c12X" sets both CASToken and Stale.
func ParseFlags(header []byte, start int) *ResponseFlags {
	flags := &ResponseFlags{}

	n := max(start, 0)
	for n < len(header) {
		flag := FlagType(header[n])
		n++

		switch flag {
		case Space:
			continue

		case FlagReturnCAS:
			flags.CASToken, n = parseUintToken(header, n)

		case FlagReturnLastAccess:
			flags.LastAccess, n = parseUintToken(header, n)

		case FlagReturnClientFlag:
			flags.ClientFlag, n = parseUintToken(header, n)

		case FlagReturnSize:
			flags.Size, n = parseUintToken(header, n)

		case FlagReturnFetched:
			// h0 or h1, a single byte
			if n < len(header) {
				switch header[n] {
				case '1':
					flags.Fetched = Ptr(true)
				case '0':
					flags.Fetched = Ptr(false)
				}
				n++
			}

		case FlagReturnTTL:
			// t-1 for items without TTL
			if n < len(header) && header[n] == '-' {
				flags.TTL = Ptr[int32](-1)
				n += 2
				continue
			}
			v, next, ok := parseInt32(header, n)
			if ok {
				flags.TTL = &v
				n = next
			} else {
				n = skipToken(header, n)
			}

		case FlagWin:
			flags.Win = Ptr(true)

		case FlagLost:
			flags.Win = Ptr(false)

		case FlagStale:
			flags.Stale = true

		case FlagOpaque:
			end := skipToken(header, n)
			flags.Opaque = append([]byte{}, header[n:end]...)
			n = end

		default:
			n = skipToken(header, n)
		}
	}

	return flags
}

// parseUintToken parses the value of a numeric flag. On failure the value
// is nil and the returned position is past the malformed token.
func parseUintToken(b []byte, n int) (*uint32, int) {
	v, next, ok := parseUint32(b, n)
	if !ok {
		return nil, skipToken(b, n)
	}
	return &v, next
}

// parseUint32 parses the longest run of decimal digits at b[n:].
// ok is false if there are no digits or the value overflows.
func parseUint32(b []byte, n int) (v uint32, next int, ok bool) {
	var acc uint64
	i := n
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		acc = acc*10 + uint64(b[i]-'0')
		if acc > math.MaxUint32 {
			return 0, n, false
		}
		i++
	}
	if i == n {
		return 0, n, false
	}
	return uint32(acc), i, true
}

func parseInt32(b []byte, n int) (v int32, next int, ok bool) {
	u, next, ok := parseUint32(b, n)
	if !ok || u > math.MaxInt32 {
		return 0, n, false
	}
	return int32(u), next, true
}

// skipToken returns the position of the next space at or after n, or len(b).
func skipToken(b []byte, n int) int {
	if n >= len(b) {
		return len(b)
	}
	if i := bytes.IndexByte(b[n:], Space); i >= 0 {
		return n + i
	}
	return len(b)
}
