package media

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Worker stands in for one mediasoup worker process: a pion/webrtc API
// instance bound to the configured RTC port range (shared by every worker
// in the pool), plus a health
// flag the pool consults when choosing a worker for a new Room.
type Worker struct {
	id      int
	api     *webrtc.API
	healthy atomic.Bool
}

// API returns the pion/webrtc API this worker hands out peer connections
// from. Rooms created against this worker build their peers through it.
func (w *Worker) API() *webrtc.API { return w.api }

// MarkUnhealthy flags the worker as unavailable for new Room allocations.
// Existing Rooms already bound to it are the caller's responsibility to
// tear down (see spec §7: "a dead media worker is fatal for its Rooms").
func (w *Worker) MarkUnhealthy() { w.healthy.Store(false) }

func (w *Worker) isHealthy() bool { return w.healthy.Load() }

// WorkerPool owns a fixed number of Workers and round-robins Room creation
// across the healthy ones via a monotonic atomic counter — correctness
// under concurrent callers comes from fetch-add, never a lock.
type WorkerPool struct {
	workers []*Worker
	next    atomic.Uint64
	logger  *zap.Logger
}

// Settings configures the pool's RTC port range and worker count.
type Settings struct {
	NumWorkers  int
	ListenIP    string
	AnnouncedIP string
	RTCMinPort  uint16
	RTCMaxPort  uint16
}

// NewWorkerPool creates Settings.NumWorkers workers, each with its own
// pion/webrtc API bound to the shared RTC port range. A worker creation
// failure is fatal at startup, matching the reference Rust pool's
// anyhow::anyhow! panic path — the caller should treat a non-nil error as
// fatal and abort process startup.
func NewWorkerPool(settings Settings, logger *zap.Logger) (*WorkerPool, error) {
	if settings.NumWorkers <= 0 {
		return nil, fmt.Errorf("media: NumWorkers must be > 0, got %d", settings.NumWorkers)
	}

	pool := &WorkerPool{logger: logger}
	for i := 0; i < settings.NumWorkers; i++ {
		w, err := newWorker(i, settings)
		if err != nil {
			return nil, fmt.Errorf("media: create worker %d: %w", i, err)
		}
		pool.workers = append(pool.workers, w)
	}
	logger.Info("worker pool started", zap.Int("num_workers", settings.NumWorkers))
	return pool, nil
}

func newWorker(id int, settings Settings) (*Worker, error) {
	settingEngine := webrtc.SettingEngine{}
	if err := settingEngine.SetEphemeralUDPPortRange(settings.RTCMinPort, settings.RTCMaxPort); err != nil {
		return nil, err
	}
	if settings.AnnouncedIP != "" {
		settingEngine.SetNAT1To1IPs([]string{settings.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	w := &Worker{id: id, api: api}
	w.healthy.Store(true)
	return w, nil
}

// NextWorker returns the next healthy worker via round-robin. It returns an
// error only if every worker in the pool is unhealthy.
func (p *WorkerPool) NextWorker() (*Worker, error) {
	n := uint64(len(p.workers))
	start := p.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		w := p.workers[(start+i)%n]
		if w.isHealthy() {
			return w, nil
		}
	}
	return nil, fmt.Errorf("media: no healthy workers available")
}

// WorkerCount returns the total number of workers in the pool, healthy or
// not.
func (p *WorkerPool) WorkerCount() int { return len(p.workers) }
