// Package transcription manages per-audio-producer transcription
// pipelines with multi-backend support and per-conference model
// selection.
package transcription

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conferencing/core/internal/metrics"
	"github.com/aura-conferencing/core/internal/transcription/asr"
	"github.com/aura-conferencing/core/internal/transcription/vad"
)

type workerHandle struct {
	cancel context.CancelFunc
}

// Engine owns the ASR backend registry, the broadcast bus, and every
// active per-producer pipeline. Created once at startup and shared.
type Engine struct {
	registry       *asr.Registry
	defaultBackend string
	vadModelPath   string
	vadCfg         vad.Config
	asrTimeout     time.Duration
	bus            *Bus
	logger         *zap.Logger

	mu      sync.Mutex
	workers map[string]workerHandle
	models  map[string]string // conferenceID -> backend name override
}

// NewEngine builds a transcription engine around the given backend
// registry. defaultBackend names the fallback backend used when a
// conference has no override (or its override isn't registered).
// asrTimeout bounds every individual backend.Transcribe call; a segment
// that doesn't finish in time is dropped rather than blocking the worker.
func NewEngine(registry *asr.Registry, defaultBackend, vadModelPath string, vadCfg vad.Config, asrTimeout time.Duration, logger *zap.Logger) *Engine {
	logger.Info("transcription engine created",
		zap.Strings("backends", registry.AvailableBackends()),
		zap.String("default", defaultBackend),
	)
	return &Engine{
		registry:       registry,
		defaultBackend: defaultBackend,
		vadModelPath:   vadModelPath,
		vadCfg:         vadCfg,
		asrTimeout:     asrTimeout,
		bus:            NewBus(),
		logger:         logger,
		workers:        make(map[string]workerHandle),
		models:         make(map[string]string),
	}
}

// Subscribe returns a channel of transcript events plus an unsubscribe
// function.
func (e *Engine) Subscribe() (<-chan TranscriptEvent, func()) {
	return e.bus.Subscribe()
}

// EnableConference turns on transcription for a conference using the
// given backend name as its model override.
func (e *Engine) EnableConference(conferenceID, modelName string) {
	e.mu.Lock()
	e.models[conferenceID] = modelName
	e.mu.Unlock()
	e.logger.Info("transcription enabled for conference",
		zap.String("conference_id", conferenceID), zap.String("model", modelName))
}

// DisableConference turns off transcription for a conference and stops
// every active pipeline belonging to it.
func (e *Engine) DisableConference(conferenceID string) {
	e.mu.Lock()
	delete(e.models, conferenceID)
	prefix := conferenceID + ":"
	var toRemove []string
	for key := range e.workers {
		if strings.HasPrefix(key, prefix) {
			toRemove = append(toRemove, key)
		}
	}
	e.mu.Unlock()

	for _, key := range toRemove {
		e.stopPipelineKey(key)
	}
	e.logger.Info("transcription disabled for conference", zap.String("conference_id", conferenceID))
}

// IsEnabled reports whether a conference currently has transcription
// enabled.
func (e *Engine) IsEnabled(conferenceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.models[conferenceID]
	return ok
}

// getBackend resolves the backend for a conference: its override, then
// the engine default, then any registered backend. Caller must hold e.mu.
func (e *Engine) getBackend(conferenceID string) asr.Backend {
	override := e.models[conferenceID]
	backend, warnings, err := e.registry.Resolve(override, e.defaultBackend)
	for _, w := range warnings {
		e.logger.Warn(w)
	}
	if err != nil {
		return nil
	}
	return backend
}

// StartPipeline starts a transcription pipeline for an audio producer,
// keyed by "conferenceID:producerID". If a pipeline already exists for
// that key it is stopped first, so calling this again for the same
// producer after a model change replaces the running worker.
func (e *Engine) StartPipeline(
	ctx context.Context,
	conferenceID, producerID, userID, speakerName, language string,
	rtpCh <-chan []byte,
) {
	key := conferenceID + ":" + producerID

	e.mu.Lock()
	if _, exists := e.workers[key]; exists {
		e.logger.Info("replacing existing pipeline (model switch)", zap.String("key", key))
		e.mu.Unlock()
		e.stopPipelineKey(key)
		e.mu.Lock()
	}

	backend := e.getBackend(conferenceID)
	if backend == nil {
		e.mu.Unlock()
		e.logger.Warn("no asr backends available for conference", zap.String("conference_id", conferenceID))
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	e.workers[key] = workerHandle{cancel: cancel}
	e.mu.Unlock()

	e.logger.Debug("starting transcription pipeline", zap.String("key", key), zap.String("backend", backend.Name()))

	worker := NewWorker(userID, conferenceID, producerID, speakerName, backend, e.vadModelPath, e.vadCfg, e.asrTimeout, language, rtpCh, e.bus, e.logger)

	go func() {
		worker.Run(workerCtx)
		e.mu.Lock()
		// stopPipelineKey removes the entry before cancelling, so a worker
		// cancelled that way leaves the map alone: its key may already
		// belong to a replacement worker.
		if workerCtx.Err() == nil || ctx.Err() != nil {
			delete(e.workers, key)
		}
		n := len(e.workers)
		e.mu.Unlock()
		metrics.SetActivePipelines(float64(n))
		e.logger.Debug("worker entry cleaned up", zap.String("key", key))
	}()

	metrics.SetActivePipelines(float64(e.ActivePipelineCount()))
	e.logger.Debug("transcription pipeline started", zap.String("key", key), zap.String("speaker_name", speakerName))
}

func (e *Engine) stopPipelineKey(key string) {
	e.mu.Lock()
	handle, ok := e.workers[key]
	if ok {
		delete(e.workers, key)
	}
	e.mu.Unlock()
	if ok {
		handle.cancel()
		e.logger.Debug("transcription pipeline stopped", zap.String("key", key))
	}
}

// StopProducer stops the pipeline for a specific producer, if any.
func (e *Engine) StopProducer(conferenceID, producerID string) {
	e.stopPipelineKey(conferenceID + ":" + producerID)
}

// ActivePipelineCount returns the number of currently running pipelines.
func (e *Engine) ActivePipelineCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// AvailableBackends lists every registered ASR backend name.
func (e *Engine) AvailableBackends() []string {
	return e.registry.AvailableBackends()
}
