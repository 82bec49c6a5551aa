package tunnel

import (
	"net"
	"sync"
	"time"
)

// socketContext pairs a net.Conn with idle-deadline bookkeeping (spec
// §3 SocketContext). There are two per tunnel: incoming (client side)
// and outgoing (upstream side). Go's conn deadlines stand in for the
// original's separate idle timer object; touch() is the "reset the
// idle timer on every successful read/write/connect" rule from §4.1.
type socketContext struct {
	name        string
	conn        net.Conn
	idleTimeout time.Duration
	tunnel      *Tunnel
	closeOnce   sync.Once
}

func newSocketContext(name string, conn net.Conn, idleTimeout time.Duration, t *Tunnel) *socketContext {
	sc := &socketContext{name: name, conn: conn, idleTimeout: idleTimeout, tunnel: t}
	sc.touch()
	return sc
}

// touch resets the idle deadline. A zero idleTimeout disables it.
func (sc *socketContext) touch() {
	if sc.idleTimeout <= 0 {
		return
	}
	sc.conn.SetDeadline(time.Now().Add(sc.idleTimeout))
}

// close tears down the underlying connection and releases the two
// references a socket context holds on its tunnel (spec §4.1: "on
// closing a socket, two async close operations are issued, handle and
// timer, each taking one reference"). Idempotent: both relay
// directions may observe the same connection failing and call close
// concurrently, but the two releases happen exactly once.
func (sc *socketContext) close() {
	sc.closeOnce.Do(func() {
		sc.conn.Close()
		sc.tunnel.release()
		sc.tunnel.release()
	})
}
