package meta

import (
	"errors"
	"strconv"
)

var (
	// ErrKeyTooLong is returned by the command builder when the key does
	// not fit the wire key limit. Nothing should be sent.
	ErrKeyTooLong = errors.New("meta: key too long")

	// ErrIncompleteHeader is returned by ParseHeader when the window does
	// not contain a full header line. Nothing was consumed: the caller
	// should read more bytes and retry from the same start.
	ErrIncompleteHeader = errors.New("meta: incomplete header")
)

// KeyError describes a key rejected by the command builder.
// It unwraps to ErrKeyTooLong.
type KeyError struct {
	Length int  // Length of the raw key
	Limit  int  // Exclusive limit that applied
	Binary bool // Key needed base64 encoding
}

func (e *KeyError) Error() string {
	kind := "key"
	if e.Binary {
		kind = "binary key"
	}
	return "meta: " + kind + " length " + strconv.Itoa(e.Length) + " exceeds limit of " + strconv.Itoa(e.Limit-1) + " bytes"
}

func (e *KeyError) Unwrap() error {
	return ErrKeyTooLong
}
