package tunnel

import (
	"net"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"ssrtun/internal/config"
	"ssrtun/internal/serverenv"
)

// Server accepts SOCKS5 connections on the configured listen address
// and spawns one Tunnel per connection. Grounded on the teacher's
// forward.Forwarder accept loop (internal/forward/forward.go),
// restructured around *serverenv.Environment instead of a single
// persistent upstream tunnel client.
type Server struct {
	Listen *config.ListenConfig
	Remote *config.RemoteConfig
	Env    *serverenv.Environment
	Logger *zap.Logger

	listener net.Listener
	closed   atomic.Bool
}

// ListenAndServe opens the listen socket and accepts connections until
// Close is called. Blocks.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.Listen.Host, strconv.Itoa(s.Listen.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.Logger.Info("listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			continue
		}
		t := New(conn, s.Env, s.Remote, s.Logger)
		go t.Run()
	}
}

// Close stops accepting new connections. In-flight tunnels run to
// completion on their own.
func (s *Server) Close() error {
	s.closed.Store(true)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
