package tunnel

import (
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ssrtun/internal/config"
	"ssrtun/internal/pipeline"
	"ssrtun/internal/serverenv"
	"ssrtun/internal/socks5"
)

// connectTimeout bounds the upstream TCP dial, separate from the
// per-socket idle timer that governs the rest of a tunnel's life.
const connectTimeout = 10 * time.Second

// relayBufferSize is the per-direction read buffer in the proxy phase.
const relayBufferSize = 16384

var nextTunnelID atomic.Uint64

// Tunnel is the per-connection state machine (spec §3/§4.1). Exactly
// one goroutine calls Run; the two relay goroutines spawned from the
// proxy phase are the only concurrency within a single tunnel's
// lifetime.
type Tunnel struct {
	id     uint64
	env    *serverenv.Environment
	cfg    *config.RemoteConfig
	logger *zap.Logger

	incoming *socketContext
	outgoing *socketContext

	pipe *pipeline.Pipeline

	state atomic.Int32

	refCount     atomic.Int32
	deadOnce     sync.Once
	shutdownOnce sync.Once

	registry *serverenv.Registry
}

// New creates a tunnel for an already-accepted client connection. The
// tunnel registers itself immediately (spec §3: "a tunnel appears in
// the registry iff it has outstanding I/O handles") and seeds
// ref_count at 4: two socket contexts, each holding a handle reference
// and a timer reference (spec §4.1).
func New(conn net.Conn, env *serverenv.Environment, cfg *config.RemoteConfig, logger *zap.Logger) *Tunnel {
	id := nextTunnelID.Add(1)
	t := &Tunnel{
		id:       id,
		env:      env,
		cfg:      cfg,
		registry: env.Registry(),
	}
	t.logger = logger.With(zap.Uint64("tunnel_id", id))
	t.refCount.Store(4)
	t.state.Store(int32(StateHandshake))
	t.incoming = newSocketContext("incoming", conn, cfg.IdleTimeout.Duration, t)
	t.registry.Insert(t)
	return t
}

// ID implements serverenv.TunnelHandle.
func (t *Tunnel) ID() uint64 { return t.id }

func (t *Tunnel) setState(s State) {
	t.state.Store(int32(s))
	t.logger.Debug("state transition", zap.String("state", s.String()))
}

// Run drives the tunnel to completion: handshake, request, resolve,
// connect, SSR auth, proxy. It returns once the tunnel has fully torn
// down. Callers spawn one goroutine per accepted connection and call
// Run from it.
func (t *Tunnel) Run() {
	defer t.shutdown()

	req, err := t.handshakeAndRequest()
	if err != nil {
		t.logger.Debug("handshake failed", zap.Error(err))
		return
	}

	switch req.Cmd {
	case socks5.CmdUDPAssoc:
		t.udpAssoc(req)
	case socks5.CmdConnect:
		t.connectAndProxy(req)
	default:
		t.setState(StateKill)
		t.incoming.conn.Write(socks5.ReplyBytes(socks5.RepCmdNotSupported, socks5.AtypIPv4, nil, 0))
	}
}

// handshakeAndRequest runs the handshake and req_parse states (spec
// §4.1 rows "handshake", "req_start", "req_parse" up to a parsed
// request). It owns the incoming socket exclusively until it returns.
func (t *Tunnel) handshakeAndRequest() (socks5.Request, error) {
	parser := socks5.NewParser()
	buf := make([]byte, 4096)

	for {
		t.incoming.touch()
		n, err := t.incoming.conn.Read(buf)
		if err != nil {
			return socks5.Request{}, classifyReadErr(err)
		}
		t.incoming.touch()

		switch parser.Feed(buf[:n]) {
		case socks5.StatusNeedMore:
			continue

		case socks5.StatusAuthSelect:
			if !parser.HasAuthNone() {
				t.incoming.conn.Write([]byte{socks5.Version, socks5.AuthNoAccept})
				t.setState(StateKill)
				return socks5.Request{}, fmt.Errorf("%w: no acceptable auth method", ErrParseError)
			}
			if _, err := t.incoming.conn.Write([]byte{socks5.Version, socks5.AuthNone}); err != nil {
				return socks5.Request{}, fmt.Errorf("%w: %v", ErrIOError, err)
			}
			t.setState(StateReqStart)
			parser.BeginRequest()
			t.setState(StateReqParse)
			// Parse any request bytes that arrived with the method-select message.
			switch parser.Feed(nil) {
			case socks5.StatusExecCmd:
				return parser.Request(), nil
			case socks5.StatusError:
				t.setState(StateKill)
				return socks5.Request{}, fmt.Errorf("%w: malformed socks5 message", ErrParseError)
			}

		case socks5.StatusExecCmd:
			return parser.Request(), nil

		case socks5.StatusError:
			t.setState(StateKill)
			return socks5.Request{}, fmt.Errorf("%w: malformed socks5 message", ErrParseError)
		}
	}
}

// udpAssoc implements the req_udp_assoc state: write the ASSOCIATE
// reply, then block reading until EOF (no payload relay, per the
// UDP-relay non-goal).
func (t *Tunnel) udpAssoc(req socks5.Request) {
	t.setState(StateReqUDPAssoc)

	rep := byte(socks5.RepCmdNotSupported)
	if t.cfg.UDP {
		rep = socks5.RepSuccess
	}
	atyp := byte(socks5.AtypIPv4)
	addr := []byte{0, 0, 0, 0}
	if req.Atyp == socks5.AtypIPv6 {
		atyp = socks5.AtypIPv6
		addr = make([]byte, 16)
	}
	t.incoming.conn.Write(socks5.ReplyBytes(rep, atyp, addr, 0))

	buf := make([]byte, 1024)
	for {
		if _, err := t.incoming.conn.Read(buf); err != nil {
			return
		}
	}
}

// connectAndProxy implements req_parse(connect) through proxy_start:
// build the init package, construct the cipher pipeline, resolve and
// connect to the remote, deliver the SSR initial package, then enter
// the proxy relay loop.
func (t *Tunnel) connectAndProxy(req socks5.Request) {
	t.setState(StateReqParse)
	initPackage := socks5.EncodeAddr(req)

	iv := make([]byte, t.env.CipherEnv.IVLen)
	if len(iv) > 0 {
		if _, err := rand.Read(iv); err != nil {
			t.failKill(socks5.RepFailure)
			return
		}
	}
	proto, protoInfo, obfsPlug, obfsInfo := t.env.NewTunnelPlugins(t.cfg.Host, uint16(t.cfg.Port), iv, t.env.CipherEnv.Key)
	t.pipe = pipeline.New(t.env.CipherEnv, proto, protoInfo, obfsPlug, obfsInfo)

	remoteIP, err := t.resolveRemote()
	if err != nil {
		t.setState(StateReqLookup)
		t.incoming.conn.Write(socks5.ReplyBytes(socks5.RepHostUnreachable, socks5.AtypIPv4, nil, 0))
		t.logger.Warn("resolve failed", zap.String("host", t.cfg.Host), zap.Error(err))
		t.setState(StateKill)
		return
	}

	t.setState(StateReqConnect)
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(remoteIP, strconv.Itoa(t.cfg.Port)), connectTimeout)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConnectFailed, err)
		t.incoming.conn.Write(socks5.ReplyBytes(socks5.RepConnRefused, socks5.AtypIPv4, nil, 0))
		t.logger.Warn("connect failed", zap.String("remote", t.cfg.Host), zap.Error(err))
		t.setState(StateKill)
		return
	}
	t.outgoing = newSocketContext("outgoing", conn, t.cfg.IdleTimeout.Duration, t)

	wire, err := t.pipe.Encrypt(initPackage)
	if err != nil {
		t.logger.Warn("init package encrypt failed", zap.Error(classifyPipelineErr(err)))
		t.setState(StateKill)
		return
	}
	t.pipe.HeadLen(initPackage)
	if _, err := t.outgoing.conn.Write(wire); err != nil {
		t.logger.Warn("init package write failed", zap.Error(err))
		t.setState(StateKill)
		return
	}
	t.outgoing.touch()

	t.setState(StateSSRAuthSent)
	reply := socks5.ReplyBytes(socks5.RepSuccess, req.Atyp, req.Addr, req.Port)
	if _, err := t.incoming.conn.Write(reply); err != nil {
		t.logger.Warn("success reply write failed", zap.Error(err))
		t.setState(StateKill)
		return
	}
	t.incoming.touch()

	t.setState(StateProxyStart)
	t.proxy()
}

// resolveRemote resolves cfg.Host, the configured SSR server's own
// address, not the client's requested destination — that destination
// travels inside init_package, to be resolved by the remote server
// itself (spec §4.1 req_lookup). A numeric host skips resolution.
func (t *Tunnel) resolveRemote() (string, error) {
	if net.ParseIP(t.cfg.Host) != nil {
		return t.cfg.Host, nil
	}
	ips, err := net.LookupHost(t.cfg.Host)
	if err != nil || len(ips) == 0 {
		return "", fmt.Errorf("%w: %s", ErrResolveFailed, t.cfg.Host)
	}
	return ips[0], nil
}

func (t *Tunnel) failKill(rep byte) {
	t.incoming.conn.Write(socks5.ReplyBytes(rep, socks5.AtypIPv4, nil, 0))
	t.setState(StateKill)
}

// proxy runs the bidirectional relay (spec §4.1 proxy state, §5
// ordering guarantees: at most one outstanding write per direction,
// preserving byte order). Each direction is its own goroutine; a
// failure on either side tears down both socket contexts, which in
// turn unblocks the other goroutine's pending read.
func (t *Tunnel) proxy() {
	t.setState(StateProxy)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer t.shutdown()
		t.relayClientToUpstream()
	}()
	go func() {
		defer wg.Done()
		defer t.shutdown()
		t.relayUpstreamToClient()
	}()
	wg.Wait()
}

func (t *Tunnel) relayClientToUpstream() {
	buf := make([]byte, relayBufferSize)
	for {
		t.incoming.touch()
		n, err := t.incoming.conn.Read(buf)
		if n > 0 {
			wire, encErr := t.pipe.Encrypt(buf[:n])
			if encErr != nil {
				t.logger.Debug("egress encrypt failed", zap.Error(classifyPipelineErr(encErr)))
				return
			}
			if _, werr := t.outgoing.conn.Write(wire); werr != nil {
				return
			}
			t.outgoing.touch()
		}
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("incoming read failed", zap.Error(classifyReadErr(err)))
			}
			return
		}
	}
}

func (t *Tunnel) relayUpstreamToClient() {
	buf := make([]byte, relayBufferSize)
	for {
		t.outgoing.touch()
		n, err := t.outgoing.conn.Read(buf)
		if n > 0 {
			plain, feedback, decErr := t.pipe.Decrypt(buf[:n])
			if decErr != nil {
				t.logger.Debug("ingress decrypt failed", zap.Error(classifyPipelineErr(decErr)))
				return
			}
			if len(feedback) > 0 {
				if _, werr := t.outgoing.conn.Write(feedback); werr != nil {
					return
				}
				t.outgoing.touch()
			}
			if len(plain) > 0 {
				if _, werr := t.incoming.conn.Write(plain); werr != nil {
					return
				}
				t.incoming.touch()
			}
		}
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("outgoing read failed", zap.Error(classifyReadErr(err)))
			}
			return
		}
	}
}

// shutdown begins the kill state and closes both socket contexts
// (spec §4.1 kill state: "begin tunnel_shutdown"). Safe to call from
// either relay goroutine or from Run's own defer; the closes
// themselves are idempotent per socketContext.
func (t *Tunnel) shutdown() {
	t.shutdownOnce.Do(func() {
		t.setState(StateKill)
		t.incoming.close()
		if t.outgoing != nil {
			t.outgoing.close()
		} else {
			// No outgoing socket context was ever created (failed before
			// connect): account for its two references directly so
			// ref_count still reaches zero exactly once.
			t.release()
			t.release()
		}
	})
}

// release drops one reference. When the count reaches zero the tunnel
// is fully torn down: it is removed from the registry and marked dead
// (spec §4.1: "the tunnel is freed only when all references drop and
// state == dead"; §8 property 7: ref_count reaches 0 exactly once).
func (t *Tunnel) release() {
	if t.refCount.Add(-1) != 0 {
		return
	}
	t.deadOnce.Do(func() {
		t.state.Store(int32(StateDead))
		t.registry.Remove(t)
		t.logger.Debug("tunnel torn down")
	})
}
