// Package control implements the daemon's local control-plane socket:
// a length-prefixed JSON request/response protocol over a Unix domain
// socket, per spec.md §4.6.
//
// Framing (length prefix, MaxFrameSize, decode/encode) is reused as-is from
// the shared ipc package. This package adds the control-plane-specific
// ceiling spec.md §4.6 actually names for this socket -- a 64 KiB per-client
// receive buffer, tighter than ipc.MaxFrameSize's general 16 MiB -- plus
// connection accounting and command dispatch.
//
// Grounded in the teacher's net.Listener accept-loop idiom (one goroutine
// per connection, no connection pool) seen across its runtime/ package;
// the bounded-client-count and oversized-frame-closes-one-connection
// behavior have no teacher analogue and are grounded directly in spec.md
// §4.6 and its testable invariant 6.
package control

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chenlehua/vnidsd/ipc"
	"github.com/chenlehua/vnidsd/log"
	"github.com/chenlehua/vnidsd/metrics"
	"github.com/chenlehua/vnidsd/vnidserr"
)

// MaxRequestSize is the control socket's per-client receive buffer ceiling,
// per spec.md §4.6. A decoded payload larger than this closes the
// connection without affecting other clients (testable invariant 6).
const MaxRequestSize = 64*1024 - ipc.LengthPrefixSize

// MaxClients bounds concurrent control-socket connections, per spec.md §4.6.
const MaxClients = 32

// SocketMode is the filesystem permission applied to the control socket.
const SocketMode = 0660

// Handler answers one decoded request. It returns no error value: handlers
// build their own *ipc.Response for both success and rejection so they can
// choose the right vnidserr.Code.
type Handler func(req *ipc.Request) *ipc.Response

// Server listens on a Unix socket and serves the control-plane protocol.
type Server struct {
	socketPath string
	logger     *log.Logger
	stats      *metrics.Collector
	dispatch   Handler

	mu       sync.Mutex
	listener net.Listener
	clients  atomic.Int64
	closing  atomic.Bool
	wg       sync.WaitGroup
	conns    map[net.Conn]struct{}
}

// New constructs a Server. dispatch is called once per decoded request.
func New(socketPath string, logger *log.Logger, stats *metrics.Collector, dispatch Handler) *Server {
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		stats:      stats,
		dispatch:   dispatch,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start binds the control socket and begins accepting connections in a
// background goroutine. Returns once the listener is ready.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, SocketMode); err != nil {
		ln.Close()
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Stop closes the listener and every accepted connection, then waits for
// their serving goroutines to exit. Closing the listener alone only
// unblocks Accept; a connection already accepted and blocked in ReadFrame
// (an idle client holding the socket open) would otherwise keep Stop
// waiting forever, so every tracked connection is closed too.
func (s *Server) Stop() {
	s.closing.Store(true)

	s.mu.Lock()
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}

	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return
			}
			if s.logger != nil {
				s.logger.Warn("control accept failed", map[string]any{"error": err.Error()})
			}
			return
		}

		if s.clients.Load() >= MaxClients {
			conn.Close()
			if s.logger != nil {
				s.logger.Warn("control connection rejected: too many clients", nil)
			}
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		s.clients.Add(1)
		s.stats.SetControlClientsActive(s.clients.Load())
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
		s.clients.Add(-1)
		s.stats.SetControlClientsActive(s.clients.Load())
	}()

	dec := ipc.NewFrameDecoder(conn)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return
			}
			var frameErr *ipc.FrameError
			if errors.As(err, &frameErr) && frameErr.IsFatal() {
				return
			}
			s.writeResponse(conn, ipc.Err(int(vnidserr.CodeParse), "malformed frame"))
			continue
		}

		if len(payload) > MaxRequestSize {
			// Oversized request: per spec.md §4.6 invariant 6, close this
			// connection only; other clients are unaffected.
			return
		}

		req, err := ipc.DecodeRequest(payload)
		if err != nil {
			s.stats.IncControlError()
			s.writeResponse(conn, ipc.Err(int(vnidserr.CodeParse), "invalid request: "+err.Error()))
			continue
		}

		s.stats.IncControlRequest()
		resp := s.dispatchOne(req)
		if resp.ErrorCode != 0 {
			s.stats.IncControlError()
		}
		if !s.writeResponse(conn, resp) {
			return
		}
	}
}

func (s *Server) dispatchOne(req *ipc.Request) *ipc.Response {
	if s.dispatch == nil {
		return ipc.Err(int(vnidserr.CodeNotFound), "no handler registered")
	}
	resp := s.dispatch(req)
	if resp == nil {
		return ipc.Err(int(vnidserr.CodeGeneric), "handler returned no response")
	}
	return resp
}

func (s *Server) writeResponse(conn net.Conn, resp *ipc.Response) bool {
	frame, err := ipc.EncodeResponse(resp)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("control response encode failed", map[string]any{"error": err.Error()})
		}
		return false
	}
	if _, err := conn.Write(frame); err != nil {
		return false
	}
	return true
}
