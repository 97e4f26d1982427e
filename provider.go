package openscreen

import "sync/atomic"

// Provider identifies an encoder implementation path.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let the pipeline choose (hardware first)
	ProviderHardware                 // Platform hardware encoder
	ProviderSoftware                 // Software encoder
	providerCount
)

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name        string
	Accelerated bool
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", false},
	ProviderHardware: {"hardware", true},
	ProviderSoftware: {"software", false},
}

// Runtime availability - set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// Accelerated returns true if the provider uses hardware acceleration.
func (p Provider) Accelerated() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Accelerated
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// setProviderAvailable marks a provider as available (called by implementations).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}

// providerPreference is the order providers are tried when the config asks for
// ProviderAuto: hardware first, then software fallback.
var providerPreference = [...]Provider{ProviderHardware, ProviderSoftware}
