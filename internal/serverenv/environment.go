// Package serverenv holds the process-wide state shared by every
// tunnel: the cipher environment, the resolved protocol/obfs plugin
// global state, and the live-tunnel registry (spec §3 ServerEnvironment,
// §4.6 tunnel registry).
package serverenv

import (
	"fmt"
	"sync"

	"ssrtun/internal/cipherenv"
	"ssrtun/internal/obfs"
	"ssrtun/internal/pluginapi"
	"ssrtun/internal/protocol"
)

// TunnelHandle is the minimal capability the registry needs from a
// live tunnel. internal/tunnel's concrete type implements it; this
// package never imports internal/tunnel, which would cycle back here.
type TunnelHandle interface {
	ID() uint64
}

// Environment is the single process-wide instance created from a
// ServerConfig at startup and torn down at process exit.
type Environment struct {
	CipherEnv *cipherenv.Env

	protocolName   string
	protocolParam  string
	obfsName       string
	obfsParam      string
	protocolGlobal interface{}
	obfsGlobal     interface{}

	// creationMu serializes per-tunnel plugin construction. It does not
	// guard the contents of protocol_global/obfs_global: the
	// auth_aes128 counters are mutated under their own lock when a
	// tunnel's first chunk is packed.
	creationMu sync.Mutex

	registry *Registry

	disposed bool
	mu       sync.Mutex
}

// New builds the process-wide environment for one configured remote.
func New(password, method, protocolName, protocolParam, obfsName, obfsParam string) (*Environment, error) {
	cipherEnv, err := cipherenv.NewEnv(password, method)
	if err != nil {
		return nil, fmt.Errorf("serverenv: %w", err)
	}
	if _, ok := protocolRegistryHas(protocolName); !ok {
		return nil, fmt.Errorf("serverenv: unknown protocol %q", protocolName)
	}
	if _, ok := obfsRegistryHas(obfsName); !ok {
		return nil, fmt.Errorf("serverenv: unknown obfs %q", obfsName)
	}

	return &Environment{
		CipherEnv:      cipherEnv,
		protocolName:   protocolName,
		protocolParam:  protocolParam,
		obfsName:       obfsName,
		obfsParam:      obfsParam,
		protocolGlobal: protocol.InitGlobalData(protocolName),
		obfsGlobal:     obfs.InitGlobalData(obfsName),
		registry:       NewRegistry(),
	}, nil
}

func protocolRegistryHas(name string) (protocol.Plugin, bool) { return protocol.New(name) }
func obfsRegistryHas(name string) (obfs.Plugin, bool)         { return obfs.New(name) }

// NewTunnelPlugins constructs a fresh protocol+obfs plugin pair for
// one new tunnel, each with its own ServerInfo (protocol and obfs are
// configured with independent param strings), serialized against
// concurrent tunnel creation. Both ServerInfos share the environment's
// protocol_global/obfs_global values; this function does not mutate
// them.
func (e *Environment) NewTunnelPlugins(host string, port uint16, iv, key []byte) (protocol.Plugin, *pluginapi.ServerInfo, obfs.Plugin, *pluginapi.ServerInfo) {
	e.creationMu.Lock()
	defer e.creationMu.Unlock()

	proto, _ := protocol.New(e.protocolName)
	obfsPlug, _ := obfs.New(e.obfsName)

	protoInfo := pluginapi.NewServerInfo(host, port, iv, key, e.protocolParam)
	protoInfo.GData = e.protocolGlobal

	obfsInfo := pluginapi.NewServerInfo(host, port, iv, key, e.obfsParam)
	obfsInfo.GData = e.obfsGlobal

	return proto, protoInfo, obfsPlug, obfsInfo
}

// Registry returns the process-wide tunnel registry.
func (e *Environment) Registry() *Registry { return e.registry }

// Dispose marks the environment torn down. Idempotent (spec §3: "idempotent
// double-free guarded").
func (e *Environment) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
}

func (e *Environment) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}
