// Package nim is a placeholder asr.Backend for an NVIDIA NIM-hosted ASR
// model. Registered so operators can name it in config, but not wired to
// a working inference call yet — see DESIGN.md's Open Question decision.
package nim

import (
	"context"

	"github.com/aura-conferencing/core/internal/transcription/asr"
)

// Backend is a registered-but-unimplemented NIM ASR backend.
type Backend struct {
	endpoint string
}

var _ asr.Backend = (*Backend)(nil)

// New builds a NIM backend bound to endpoint. Transcribe always returns
// asr.ErrNotImplemented until a concrete NIM client is wired in.
func New(endpoint string) *Backend {
	return &Backend{endpoint: endpoint}
}

// Name identifies this backend for config/override selection.
func (b *Backend) Name() string { return "nim" }

// SupportsLanguage reports false unconditionally since no inference path
// exists yet to honor any language.
func (b *Backend) SupportsLanguage(_ string) bool { return false }

// Transcribe always fails with asr.ErrNotImplemented.
func (b *Backend) Transcribe(_ context.Context, _ []float32, _ string) (asr.Result, error) {
	return asr.Result{}, asr.ErrNotImplemented
}
