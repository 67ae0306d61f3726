package testutils

import (
	"bufio"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type item struct {
	value []byte
	flags uint32
	cas   uint32
	ttl   int32 // -1 means no TTL
	won   bool  // a client already received the W flag for this miss
}

// Server is an in-memory memcached speaking a subset of the meta protocol
// (mg, ms, md, ma, mn). Unknown commands get ERROR.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	items   map[string]*item
	nextCAS uint32
	lines   []string
	conns   map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewServer starts a server on a random local port, stopped when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}

	s := &Server{
		ln:    ln,
		items: make(map[string]*item),
		conns: make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	tb.Cleanup(s.Close)

	return s
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Put stores a value directly.
func (s *Server) Put(key string, value []byte, flags uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, value, flags, -1)
}

// Value returns the stored value for key.
func (s *Server) Value(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	return it.value, true
}

// Lines returns every command line received so far, without CRLF.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// DropConnections closes all client connections.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the server and waits for connection handlers to exit.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\r\n")

		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()

		if err := s.dispatch(line, r, w); err != nil {
			return
		}

		// Flush once the client has nothing more pipelined.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(line string, r *bufio.Reader, w *bufio.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		_, err := w.WriteString("ERROR\r\n")
		return err
	}

	if fields[0] == "mn" {
		_, err := w.WriteString("MN\r\n")
		return err
	}

	if len(fields) < 2 {
		_, err := w.WriteString("CLIENT_ERROR bad command line format\r\n")
		return err
	}

	req, err := parseRequest(fields)
	if err != nil {
		_, err := w.WriteString("CLIENT_ERROR " + err.Error() + "\r\n")
		return err
	}

	var data []byte
	if fields[0] == "ms" {
		data = make([]byte, req.size+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return err
		}
		if string(data[req.size:]) != "\r\n" {
			_, err := w.WriteString("CLIENT_ERROR bad data chunk\r\n")
			return err
		}
		data = data[:req.size]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch fields[0] {
	case "mg":
		return s.get(req, w)
	case "ms":
		return s.set(req, data, w)
	case "md":
		return s.delete(req, w)
	case "ma":
		return s.arithmetic(req, w)
	default:
		_, err := w.WriteString("ERROR\r\n")
		return err
	}
}

// request holds the parsed key, size and flag tokens of a command line.
type request struct {
	key    string
	size   int
	tokens []string
	flags  map[byte]string
}

func (r *request) has(flag byte) bool {
	_, ok := r.flags[flag]
	return ok
}

func (r *request) uint(flag byte, def uint64) uint64 {
	v, ok := r.flags[flag]
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func parseRequest(fields []string) (*request, error) {
	req := &request{key: fields[1], flags: make(map[byte]string)}
	rest := fields[2:]

	if fields[0] == "ms" {
		if len(rest) == 0 {
			return nil, errors.New("missing size")
		}
		size, err := strconv.Atoi(strings.TrimPrefix(rest[0], "S"))
		if err != nil || size < 0 {
			return nil, errors.New("bad data chunk")
		}
		req.size = size
		rest = rest[1:]
	}

	for _, tok := range rest {
		req.tokens = append(req.tokens, tok)
		req.flags[tok[0]] = tok[1:]
	}

	if req.has('b') {
		key, err := base64.StdEncoding.DecodeString(req.key)
		if err != nil {
			return nil, errors.New("bad base64 key")
		}
		req.key = string(key)
	}
	if len(req.key) > 250 {
		return nil, errors.New("key too long")
	}

	return req, nil
}

func (s *Server) store(key string, value []byte, flags uint32, ttl int32) *item {
	s.nextCAS++
	it := &item{value: append([]byte(nil), value...), flags: flags, cas: s.nextCAS, ttl: ttl}
	s.items[key] = it
	return it
}

// returnFlags renders the flags requested by tokens for it, in request order.
func returnFlags(req *request, it *item, extra ...string) string {
	var b strings.Builder
	for _, tok := range req.tokens {
		switch tok[0] {
		case 'c':
			if it != nil {
				b.WriteString(" c" + strconv.FormatUint(uint64(it.cas), 10))
			}
		case 't':
			if it != nil {
				b.WriteString(" t" + strconv.FormatInt(int64(it.ttl), 10))
			}
		case 'f':
			if it != nil {
				b.WriteString(" f" + strconv.FormatUint(uint64(it.flags), 10))
			}
		case 's':
			if it != nil {
				b.WriteString(" s" + strconv.Itoa(len(it.value)))
			}
		case 'k':
			b.WriteString(" k" + req.key)
		case 'O':
			b.WriteString(" " + tok)
		}
	}
	for _, e := range extra {
		b.WriteString(" " + e)
	}
	return b.String()
}

func (s *Server) get(req *request, w *bufio.Writer) error {
	it, ok := s.items[req.key]
	var extra []string

	if !ok {
		if !req.has('N') {
			if req.has('q') {
				return nil
			}
			_, err := w.WriteString("EN" + returnFlags(req, nil) + "\r\n")
			return err
		}
		it = s.store(req.key, nil, 0, int32(req.uint('N', 0)))
		it.won = true
		extra = append(extra, "W")
	} else if it.won && len(it.value) == 0 {
		extra = append(extra, "Z")
	}

	if t, ok := req.flags['T']; ok {
		if ttl, err := strconv.ParseInt(t, 10, 32); err == nil {
			it.ttl = int32(ttl)
		}
	}

	if !req.has('v') {
		_, err := w.WriteString("HD" + returnFlags(req, it, extra...) + "\r\n")
		return err
	}

	_, err := w.WriteString("VA " + strconv.Itoa(len(it.value)) + returnFlags(req, it, extra...) + "\r\n" + string(it.value) + "\r\n")
	return err
}

func (s *Server) set(req *request, data []byte, w *bufio.Writer) error {
	existing, exists := s.items[req.key]

	reply := func(tag string, it *item) error {
		if tag == "HD" && req.has('q') {
			return nil
		}
		_, err := w.WriteString(tag + returnFlags(req, it) + "\r\n")
		return err
	}

	if req.has('C') {
		if !exists {
			return reply("NF", nil)
		}
		if uint64(existing.cas) != req.uint('C', 0) {
			return reply("EX", nil)
		}
	}

	ttl := int32(-1)
	if t := req.uint('T', 0); t > 0 {
		ttl = int32(t)
	}
	flags := uint32(req.uint('F', 0))

	mode := byte('S')
	if m := req.flags['M']; m != "" {
		mode = m[0]
	}

	switch mode {
	case 'S', 's':
	case 'E', 'e':
		if exists {
			return reply("NS", nil)
		}
	case 'R', 'r':
		if !exists {
			return reply("NS", nil)
		}
	case 'A', 'a':
		if !exists {
			return reply("NS", nil)
		}
		data = append(append([]byte(nil), existing.value...), data...)
		flags, ttl = existing.flags, existing.ttl
	case 'P', 'p':
		if !exists {
			return reply("NS", nil)
		}
		data = append(append([]byte(nil), data...), existing.value...)
		flags, ttl = existing.flags, existing.ttl
	default:
		_, err := w.WriteString("CLIENT_ERROR invalid mode for ms\r\n")
		return err
	}

	return reply("HD", s.store(req.key, data, flags, ttl))
}

func (s *Server) delete(req *request, w *bufio.Writer) error {
	if _, ok := s.items[req.key]; !ok {
		if req.has('q') {
			return nil
		}
		_, err := w.WriteString("NF" + returnFlags(req, nil) + "\r\n")
		return err
	}

	delete(s.items, req.key)
	if req.has('q') {
		return nil
	}
	_, err := w.WriteString("HD" + returnFlags(req, nil) + "\r\n")
	return err
}

func (s *Server) arithmetic(req *request, w *bufio.Writer) error {
	it, ok := s.items[req.key]
	if !ok {
		if !req.has('N') {
			if req.has('q') {
				return nil
			}
			_, err := w.WriteString("NF" + returnFlags(req, nil) + "\r\n")
			return err
		}
		initial := strconv.FormatUint(req.uint('J', 0), 10)
		it = s.store(req.key, []byte(initial), 0, int32(req.uint('N', 0)))
	} else {
		n, err := strconv.ParseUint(string(it.value), 10, 64)
		if err != nil {
			_, err := w.WriteString("CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
			return err
		}

		delta := req.uint('D', 1)
		switch m := req.flags['M']; {
		case m == "D" || m == "d" || m == "-":
			n -= min(n, delta)
		default:
			n += delta
		}
		it = s.store(req.key, []byte(strconv.FormatUint(n, 10)), it.flags, it.ttl)
	}

	if !req.has('v') {
		if req.has('q') {
			return nil
		}
		_, err := w.WriteString("HD" + returnFlags(req, it) + "\r\n")
		return err
	}

	_, err := w.WriteString("VA " + strconv.Itoa(len(it.value)) + returnFlags(req, it) + "\r\n" + string(it.value) + "\r\n")
	return err
}
