package tunnel

// State names the tunnel's position in the lifecycle table (spec
// §4.1). Logged at every transition; no behavior branches on it.
// release() stores StateDead when the last reference drops.
type State int32

const (
	StateHandshake State = iota
	StateReqStart
	StateReqParse
	StateReqUDPAssoc
	StateReqLookup
	StateReqConnect
	StateSSRAuthSent
	StateProxyStart
	StateProxy
	StateKill
	StateDead
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateReqStart:
		return "req_start"
	case StateReqParse:
		return "req_parse"
	case StateReqUDPAssoc:
		return "req_udp_assoc"
	case StateReqLookup:
		return "req_lookup"
	case StateReqConnect:
		return "req_connect"
	case StateSSRAuthSent:
		return "ssr_auth_sent"
	case StateProxyStart:
		return "proxy_start"
	case StateProxy:
		return "proxy"
	case StateKill:
		return "kill"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}
