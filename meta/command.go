package meta

import (
	"encoding/base64"
	"strconv"
)

// IsBinaryKey reports whether key contains a byte that cannot appear in a
// plain key: space, control characters, DEL or anything above 0x7E.
func IsBinaryKey(key []byte) bool {
	for _, c := range key {
		if c <= ' ' || c > '~' {
			return true
		}
	}
	return false
}

// BuildCommand builds a command line:
//
//	<cmd> <key> [[S]<size>] [b] <flags>*\r\n
//
// Binary keys (see IsBinaryKey) are sent base64-encoded with the b flag,
// which tells the server to store them decoded.
//
// size is written when non-nil, prefixed by S when legacySize is set.
// flags may be nil.
//
// It returns a *KeyError (matching ErrKeyTooLong) if the key is 250 bytes
// or longer, or 187 bytes or longer for binary keys.
func BuildCommand(cmd string, key []byte, size *uint32, flags *RequestFlags, legacySize bool) ([]byte, error) {
	return AppendCommand(nil, cmd, key, size, flags, legacySize)
}

// AppendCommand is like BuildCommand but appends the command line to dst.
// On error dst is returned unchanged.
func AppendCommand(dst []byte, cmd string, key []byte, size *uint32, flags *RequestFlags, legacySize bool) ([]byte, error) {
	if len(key) >= MaxKeyLength {
		return dst, &KeyError{Length: len(key), Limit: MaxKeyLength, Binary: IsBinaryKey(key)}
	}

	binary := IsBinaryKey(key)
	if binary && len(key) >= MaxBinaryKeyLength {
		return dst, &KeyError{Length: len(key), Limit: MaxBinaryKeyLength, Binary: true}
	}

	dst = append(dst, cmd...)
	dst = append(dst, Space)

	if binary {
		dst = base64.StdEncoding.AppendEncode(dst, key)
	} else {
		dst = append(dst, key...)
	}

	if size != nil {
		dst = append(dst, Space)
		if legacySize {
			dst = append(dst, LegacySizePrefix)
		}
		dst = strconv.AppendUint(dst, uint64(*size), 10)
	}

	if binary {
		dst = append(dst, Space, byte(FlagBase64Key))
	}

	dst = flags.AppendTo(dst)

	return append(dst, CRLF...), nil
}
