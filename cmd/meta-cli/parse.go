package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
	"github.com/RevenueCat/meta-memcache-socket/meta"
)

var commandAliases = map[string]string{
	meta.CmdGet:        meta.CmdGet,
	meta.CmdSet:        meta.CmdSet,
	meta.CmdDelete:     meta.CmdDelete,
	meta.CmdArithmetic: meta.CmdArithmetic,
	meta.CmdNoOp:       meta.CmdNoOp,
	"get":              meta.CmdGet,
	"set":              meta.CmdSet,
	"delete":           meta.CmdDelete,
	"del":              meta.CmdDelete,
	"incr":             meta.CmdArithmetic,
	"decr":             meta.CmdArithmetic,
	"noop":             meta.CmdNoOp,
}

// parseLine parses "<cmd> <key> [value] [flags...]" into a request.
//
// Flags use the request letters of the meta protocol: "v c t T60 Oabc ME".
// The value is required for ms and absent otherwise. A key wrapped in double
// quotes is unquoted with Go escapes, so "k\x20y" sends a key with a space.
// decr is ma with MD.
func parseLine(line string) (transport.Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return transport.Request{}, errors.New("empty command")
	}

	name := strings.ToLower(fields[0])
	cmd, ok := commandAliases[name]
	if !ok {
		return transport.Request{}, fmt.Errorf("unknown command %q", fields[0])
	}

	req := transport.Request{Command: cmd}
	if cmd == meta.CmdNoOp {
		if len(fields) > 1 {
			return transport.Request{}, errors.New("mn takes no arguments")
		}
		return req, nil
	}

	if len(fields) < 2 {
		return transport.Request{}, fmt.Errorf("usage: %s <key> [flags...]", name)
	}
	key, err := parseKey(fields[1])
	if err != nil {
		return transport.Request{}, err
	}
	req.Key = key

	rest := fields[2:]
	if cmd == meta.CmdSet {
		if len(rest) == 0 {
			return transport.Request{}, fmt.Errorf("usage: %s <key> <value> [flags...]", name)
		}
		req.Value = []byte(rest[0])
		rest = rest[1:]
	}

	flags, err := parseFlags(rest)
	if err != nil {
		return transport.Request{}, err
	}
	if name == "decr" && flags.Mode == nil {
		flags.Mode = meta.Ptr(meta.ModeDecrement)
	}
	req.Flags = flags

	return req, nil
}

func parseKey(token string) ([]byte, error) {
	if len(token) >= 2 && token[0] == '"' && token[len(token)-1] == '"' {
		key, err := strconv.Unquote(token)
		if err != nil {
			return nil, fmt.Errorf("invalid quoted key %s: %w", token, err)
		}
		return []byte(key), nil
	}
	return []byte(token), nil
}

func parseFlags(tokens []string) (*meta.RequestFlags, error) {
	flags := &meta.RequestFlags{}

	for _, tok := range tokens {
		letter, arg := meta.FlagType(tok[0]), tok[1:]

		if b := boolFlag(flags, letter); b != nil {
			if arg != "" {
				return nil, fmt.Errorf("flag %c takes no value: %q", letter, tok)
			}
			*b = true
			continue
		}

		if u := uintFlag(flags, letter); u != nil {
			n, err := strconv.ParseUint(arg, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("flag %c needs a 32-bit number: %q", letter, tok)
			}
			*u = meta.Ptr(uint32(n))
			continue
		}

		switch letter {
		case meta.FlagOpaque:
			if len(arg) > meta.MaxOpaqueLength {
				return nil, fmt.Errorf("opaque longer than %d bytes: %q", meta.MaxOpaqueLength, tok)
			}
			flags.Opaque = []byte(arg)
		case meta.FlagMode:
			if len(arg) != 1 {
				return nil, fmt.Errorf("mode is a single character: %q", tok)
			}
			flags.Mode = meta.Ptr(arg[0])
		default:
			return nil, fmt.Errorf("unknown flag %q", tok)
		}
	}

	return flags, nil
}

func boolFlag(f *meta.RequestFlags, letter meta.FlagType) *bool {
	switch letter {
	case meta.FlagNoReply:
		return &f.NoReply
	case meta.FlagReturnClientFlag:
		return &f.ReturnClientFlag
	case meta.FlagReturnCAS:
		return &f.ReturnCASToken
	case meta.FlagReturnValue:
		return &f.ReturnValue
	case meta.FlagReturnTTL:
		return &f.ReturnTTL
	case meta.FlagReturnSize:
		return &f.ReturnSize
	case meta.FlagReturnLastAccess:
		return &f.ReturnLastAccess
	case meta.FlagReturnFetched:
		return &f.ReturnFetched
	case meta.FlagReturnKey:
		return &f.ReturnKey
	case meta.FlagNoUpdateLRU:
		return &f.NoUpdateLRU
	case meta.FlagMarkStale:
		return &f.MarkStale
	}
	return nil
}

func uintFlag(f *meta.RequestFlags, letter meta.FlagType) **uint32 {
	switch letter {
	case meta.FlagCacheTTL:
		return &f.CacheTTL
	case meta.FlagRecacheTTL:
		return &f.RecacheTTL
	case meta.FlagVivifyOnMiss:
		return &f.VivifyOnMissTTL
	case meta.FlagClientFlag:
		return &f.ClientFlag
	case meta.FlagInitialValue:
		return &f.MAInitialValue
	case meta.FlagDelta:
		return &f.MADeltaValue
	case meta.FlagCompareCAS:
		return &f.CASToken
	}
	return nil
}
