package recorder

import "sync/atomic"

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto    Provider = iota // Let the registry choose
	ProviderLibvpx                  // Native VP8/VP9 via libmedia_vpx
	ProviderLibopus                 // Native Opus via libstream_opus
	ProviderGo                      // Pure Go (image/jpeg, raw PCM)
	providerCount
)

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name   string
	Native bool
	Rank   int // Higher is preferred
}

var providerInfo = [providerCount]providerMeta{
	ProviderAuto:    {"auto", false, 0},
	ProviderLibvpx:  {"libvpx", true, 2},
	ProviderLibopus: {"libopus", true, 2},
	ProviderGo:      {"go", false, 1},
}

// Runtime availability, set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// Native reports whether the provider loads a shared library.
func (p Provider) Native() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Native
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

func (p Provider) rank() int {
	if p >= providerCount {
		return -1
	}
	return providerInfo[p].Rank
}

func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}
