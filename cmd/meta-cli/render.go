package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
	"github.com/RevenueCat/meta-memcache-socket/meta"
)

// renderFlags formats the flags present in f as "name=value" pairs.
func renderFlags(f *meta.ResponseFlags) string {
	if f == nil {
		return ""
	}

	var parts []string
	add := func(name, value string) {
		parts = append(parts, name+"="+value)
	}

	if f.CASToken != nil {
		add("cas", strconv.FormatUint(uint64(*f.CASToken), 10))
	}
	if f.Fetched != nil {
		add("fetched", strconv.FormatBool(*f.Fetched))
	}
	if f.LastAccess != nil {
		add("last_access", strconv.FormatUint(uint64(*f.LastAccess), 10)+"s")
	}
	if f.TTL != nil {
		if *f.TTL == -1 {
			add("ttl", "none")
		} else {
			add("ttl", strconv.FormatInt(int64(*f.TTL), 10)+"s")
		}
	}
	if f.ClientFlag != nil {
		add("client_flag", strconv.FormatUint(uint64(*f.ClientFlag), 10))
	}
	if f.Win != nil {
		if *f.Win {
			add("win", "won")
		} else {
			add("win", "lost")
		}
	}
	if f.Stale {
		add("stale", "true")
	}
	if f.Size != nil {
		add("size", strconv.FormatUint(uint64(*f.Size), 10))
	}
	if f.Opaque != nil {
		add("opaque", strconv.Quote(string(f.Opaque)))
	}

	return strings.Join(parts, " ")
}

// renderReply writes a reply as one line, followed by the value if any.
func renderReply(w io.Writer, r transport.Reply) error {
	if r.Suppressed {
		_, err := fmt.Fprintln(w, "(no reply)")
		return err
	}

	line := r.Type.String()
	if flags := renderFlags(r.Flags); flags != "" {
		line += " " + flags
	}
	if r.Type == meta.ResponseValue {
		line += fmt.Sprintf(" (%d bytes)", len(r.Value))
	}

	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	if r.Type == meta.ResponseValue {
		_, err := fmt.Fprintf(w, "%q\n", r.Value)
		return err
	}
	return nil
}

// renderWire writes the bytes a request puts on the wire, quoted.
func renderWire(w io.Writer, req transport.Request, legacySize bool) error {
	if req.Command == meta.CmdNoOp {
		_, err := fmt.Fprintf(w, "%q\n", meta.CmdNoOp+meta.CRLF)
		return err
	}

	var size *uint32
	if req.Command == meta.CmdSet {
		size = meta.Ptr(uint32(len(req.Value)))
	}

	line, err := meta.BuildCommand(req.Command, req.Key, size, req.Flags, legacySize)
	if err != nil {
		return err
	}
	if size != nil {
		line = append(line, req.Value...)
		line = append(line, meta.CRLF...)
	}

	_, err = fmt.Fprintf(w, "%q\n", line)
	return err
}
