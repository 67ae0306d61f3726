package meta

// ResponseType classifies a response header.
type ResponseType int

const (
	// ResponseUnrecognized is reported for tags the codec does not know,
	// and for VA headers without a size.
	ResponseUnrecognized ResponseType = iota
	ResponseValue                     // VA
	ResponseSuccess                   // HD, OK
	ResponseNotStored                 // NS
	ResponseConflict                  // EX
	ResponseMiss                      // EN, NF
	ResponseNoop                      // MN
)

func (t ResponseType) String() string {
	switch t {
	case ResponseValue:
		return "Value"
	case ResponseSuccess:
		return "Success"
	case ResponseNotStored:
		return "NotStored"
	case ResponseConflict:
		return "Conflict"
	case ResponseMiss:
		return "Miss"
	case ResponseNoop:
		return "Noop"
	default:
		return "Unrecognized"
	}
}

// Header is a parsed response header.
type Header struct {
	// Next is the position right after the header's CRLF. For value
	// responses the data block starts here.
	Next int

	Type ResponseType

	// Size is the data block length of a value response.
	Size *uint32

	// Flags is set for value and success responses.
	Flags *ResponseFlags
}

// ParseHeader parses the first header line found in data[start:end].
//
// Header format: <tag> [<size>] <flags>*\r\n
//
// It returns ErrIncompleteHeader when the window holds no complete line;
// nothing is consumed and the call can be retried from the same start once
// more data is buffered. end is clamped to len(data).
//
// Unknown tags are not an error: the header is reported as
// ResponseUnrecognized and Next still moves past it, so a stream of
// pipelined responses can be consumed one call at a time by passing
// Header.Next as the next start.
func ParseHeader(data []byte, start, end int) (Header, error) {
	end = min(end, len(data))
	if start < 0 || end-start < minHeaderLength {
		return Header{}, ErrIncompleteHeader
	}

	for n := start + 2; n < end-1; n++ {
		if data[n] != '\r' || data[n+1] != '\n' {
			continue
		}

		h := Header{Next: n + 2}
		line := data[start:n]

		switch string(line[:2]) {
		case TagValue:
			size, flags, ok := ParseValueHeader(line)
			if ok {
				h.Type = ResponseValue
				h.Size = &size
				h.Flags = flags
			}
		case TagHeader, TagOK:
			h.Type = ResponseSuccess
			h.Flags = ParseSuccessHeader(line)
		case TagNotStored:
			h.Type = ResponseNotStored
		case TagExists:
			h.Type = ResponseConflict
		case TagEnd, TagNotFound:
			h.Type = ResponseMiss
		case TagNoOp:
			h.Type = ResponseNoop
		}

		return h, nil
	}

	return Header{}, ErrIncompleteHeader
}
