// Package asr defines the speech-to-text backend contract and the
// registry the transcription engine selects a backend from.
package asr

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by backends that are registered (so
// operators can select them by name) but have no working implementation
// yet.
var ErrNotImplemented = errors.New("asr: backend not implemented")

// Result is one backend's transcription of a speech segment.
type Result struct {
	Text          string
	Language      string
	Confidence    float64
	InferenceTime float64 // seconds
}

// Backend transcribes a mono 16kHz PCM float32 speech segment.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, audio []float32, language string) (Result, error)
	SupportsLanguage(language string) bool
}

// Registry holds the set of backends available at runtime, keyed by name.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// NewRegistry builds an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under its own Name(). Registration order is
// preserved for AvailableBackends and fallback selection.
func (r *Registry) Register(b Backend) {
	name := b.Name()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
}

// Get returns a backend by exact name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// AvailableBackends lists registered backend names in registration order.
func (r *Registry) AvailableBackends() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve picks a backend following the reference fallback chain: an
// explicit per-conference override first, then the configured default,
// then any registered backend at all. Each skipped step is reported via
// warn so callers can log it.
func (r *Registry) Resolve(override, defaultName string) (Backend, []string, error) {
	var warnings []string

	if override != "" {
		if b, ok := r.backends[override]; ok {
			return b, warnings, nil
		}
		warnings = append(warnings, fmt.Sprintf("asr: override backend %q not registered, falling back", override))
	}

	if defaultName != "" {
		if b, ok := r.backends[defaultName]; ok {
			return b, warnings, nil
		}
		warnings = append(warnings, fmt.Sprintf("asr: default backend %q not registered, falling back", defaultName))
	}

	for _, name := range r.order {
		warnings = append(warnings, fmt.Sprintf("asr: using first available backend %q", name))
		return r.backends[name], warnings, nil
	}

	return nil, warnings, fmt.Errorf("asr: no backends registered")
}
