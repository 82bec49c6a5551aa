// Package obfs implements the "obfs" half of the SSR plugin pair:
// traffic shaping applied outermost, around the protocol+cipher
// encoded payload. Every variant honors the Plugin contract; absence
// of an optional method means identity (spec §4.3).
package obfs

import "ssrtun/internal/pluginapi"

// Plugin is the uniform contract every obfs variant honors.
type Plugin interface {
	SetServerInfo(info *pluginapi.ServerInfo)
	GetOverhead() int

	// ClientEncode runs last on egress, after protocol and cipher.
	ClientEncode(data []byte) ([]byte, error)
	// ClientDecode runs first on ingress, before cipher and protocol.
	// needSendback signals the orchestrator to call ClientEncode on an
	// empty buffer and write the result upstream as a feedback chunk.
	ClientDecode(data []byte) (out []byte, needSendback bool, err error)
}

// Factory constructs a fresh Plugin instance.
type Factory func() Plugin

// GlobalFactory constructs the plugin-global state shared by all
// instances of a variant.
type GlobalFactory func() interface{}

type registryEntry struct {
	newInstance Factory
	initData    GlobalFactory
}

var registry = map[string]registryEntry{}

// Register adds an obfs variant under name. Called from each variant's
// init().
func Register(name string, newInstance Factory, initData GlobalFactory) {
	registry[name] = registryEntry{newInstance: newInstance, initData: initData}
}

// New constructs a fresh instance of the named variant.
func New(name string) (Plugin, bool) {
	entry, ok := registry[name]
	if !ok {
		return nil, false
	}
	return entry.newInstance(), true
}

// InitGlobalData constructs the process-wide global state for name, or
// nil if the variant declares none.
func InitGlobalData(name string) interface{} {
	entry, ok := registry[name]
	if !ok || entry.initData == nil {
		return nil
	}
	return entry.initData()
}

// Names returns the registered variant names, for diagnostics/CLI help.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
