// Package protocol implements the "protocol" half of the SSR plugin
// pair: authentication/framing applied innermost, around the
// SS-encrypted payload. Every variant honors the Plugin contract;
// absence of an optional method means identity (spec §4.3).
package protocol

import "ssrtun/internal/pluginapi"

// Plugin is the uniform contract every protocol variant honors.
// Callbacks not meaningful for a given variant are simply omitted by
// returning the input unchanged — Go has no "optional method" so each
// Plugin implements all four and no-ops the ones it doesn't need,
// which is the direct equivalent of the C source's null function
// pointers (spec §9).
type Plugin interface {
	// SetServerInfo binds the per-tunnel ServerInfo to this instance.
	SetServerInfo(info *pluginapi.ServerInfo)
	// GetOverhead returns the fixed per-chunk byte overhead this
	// variant adds.
	GetOverhead() int

	// ClientPreEncrypt runs before the SS stream cipher on egress.
	ClientPreEncrypt(data []byte) ([]byte, error)
	// ClientPostDecrypt runs after the SS stream cipher on ingress.
	// A negative-length result is signaled via error.
	ClientPostDecrypt(data []byte) ([]byte, error)
}

// Factory constructs a fresh Plugin instance. The variant's
// process-wide global data (spec §3 protocol_global) comes from its
// GlobalFactory instead.
type Factory func() Plugin

// GlobalFactory constructs the plugin-global state shared by all
// instances of a variant (spec's init_data()).
type GlobalFactory func() interface{}

// registryEntry pairs a plugin factory with its global-state factory.
type registryEntry struct {
	newInstance Factory
	initData    GlobalFactory
}

var registry = map[string]registryEntry{}

// Register adds a protocol variant under name. Called from each
// variant's init().
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

// InitGlobalData constructs the process-wide global state for name,
// or nil if the variant declares none.
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
