// Package meta is a codec for the Memcached Meta Protocol (version 1.6+).
//
// It builds request command lines and parses response headers. It is meant
// to be embedded in a higher-level client that owns the connection: the
// package does no I/O, holds no state and never retains the buffers it is
// given.
//
// # Building commands
//
// BuildCommand renders a command line from a command token, a key, an
// optional data size and optional RequestFlags:
//
//	line, err := meta.BuildCommand(meta.CmdGet, []byte("mykey"), nil,
//	    &meta.RequestFlags{ReturnValue: true, ReturnTTL: true}, false)
//	// "mg mykey v t\r\n"
//
// Keys containing spaces, control characters or non-ASCII bytes are sent
// base64-encoded together with the b flag:
//
//	line, _ = meta.BuildCommand(meta.CmdGet, []byte("Key with spaces"), nil, nil, false)
//	// "mg S2V5IHdpdGggc3BhY2Vz b\r\n"
//
// Flags are always written in protocol order, regardless of how the
// RequestFlags value was filled.
//
// # Parsing headers
//
// ParseHeader scans a receive buffer for one header line:
//
//	h, err := meta.ParseHeader(buf, start, len(buf))
//	if errors.Is(err, meta.ErrIncompleteHeader) {
//	    // read more and retry from the same start
//	}
//	switch h.Type {
//	case meta.ResponseValue:
//	    value := buf[h.Next : h.Next+int(*h.Size)]
//	    start = h.Next + int(*h.Size) + 2 // skip data and CRLF
//	case meta.ResponseMiss:
//	    start = h.Next
//	}
//
// Flag decoding is lenient: a malformed or unknown flag token leaves the
// matching field unset and does not fail the header.
//
// # Errors
//
// Only two conditions fail a call:
//
//   - ErrKeyTooLong (as *KeyError): the key cannot be sent
//   - ErrIncompleteHeader: not enough data buffered yet
//
// Both are matched with errors.Is.
//
// # Thread Safety
//
// All functions are safe for concurrent use. RequestFlags and
// ResponseFlags values are plain data.
package meta
