package transcription

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-conferencing/core/internal/metrics"
	"github.com/aura-conferencing/core/internal/transcription/asr"
	"github.com/aura-conferencing/core/internal/transcription/pipeline"
	"github.com/aura-conferencing/core/internal/transcription/vad"
)

// segmentQueueCapacity bounds the channel between the ingestion loop and
// the ASR loop. When it is full the ingestion loop blocks on the send until
// the ASR loop takes a segment, so a slow ASR backend stalls RTP ingestion
// for that producer instead of dropping segments.
const segmentQueueCapacity = 16

// resampleChunkSamples is 20ms at 48kHz, matching the reference pipeline's
// fixed processing chunk.
const resampleChunkSamples = 960

// Worker runs one producer's full pipeline: RTP parse -> Opus decode ->
// resample 48kHz->16kHz -> VAD -> [channel] -> ASR -> TranscriptEvent. The
// ingestion loop and ASR loop run as independent goroutines so that RTP
// processing is not blocked by an individual ASR call; it waits only while
// the segment queue is full.
type Worker struct {
	userID       string
	conferenceID string
	producerID   string
	speakerName  string
	backend      asr.Backend
	vadModelPath string
	vadCfg       vad.Config
	asrTimeout   time.Duration
	language     string
	rtpCh        <-chan []byte
	bus          *Bus
	logger       *zap.Logger
}

// NewWorker builds a per-producer transcription worker. asrTimeout bounds
// each call into backend.Transcribe; zero means no deadline is applied.
func NewWorker(
	userID, conferenceID, producerID, speakerName string,
	backend asr.Backend,
	vadModelPath string,
	vadCfg vad.Config,
	asrTimeout time.Duration,
	language string,
	rtpCh <-chan []byte,
	bus *Bus,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		userID:       userID,
		conferenceID: conferenceID,
		producerID:   producerID,
		speakerName:  speakerName,
		backend:      backend,
		vadModelPath: vadModelPath,
		vadCfg:       vadCfg,
		asrTimeout:   asrTimeout,
		language:     language,
		rtpCh:        rtpCh,
		bus:          bus,
		logger:       logger,
	}
}

// Run drives the worker's two loops until the RTP channel closes or ctx is
// cancelled. It blocks until both loops have exited.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("transcription worker started",
		zap.String("user_id", w.userID),
		zap.String("conference_id", w.conferenceID),
		zap.String("backend", w.backend.Name()),
	)

	segmentCh := make(chan SpeechSegment, segmentQueueCapacity)
	ingestDone := make(chan struct{})

	go func() {
		defer close(ingestDone)
		defer close(segmentCh)
		w.ingestionLoop(ctx, segmentCh)
	}()

	w.asrLoop(ctx, segmentCh)
	<-ingestDone

	w.logger.Debug("transcription worker stopped",
		zap.String("user_id", w.userID),
		zap.String("conference_id", w.conferenceID),
	)
}

func (w *Worker) ingestionLoop(ctx context.Context, segmentCh chan<- SpeechSegment) {
	opusDecoder, err := pipeline.NewOpusDecoder()
	if err != nil {
		w.logger.Error("failed to create opus decoder", zap.Error(err))
		return
	}

	resampler := pipeline.NewResampler(resampleChunkSamples)

	modelPath := w.vadModelPath
	if modelPath == "" {
		modelPath = "models/silero_vad.onnx"
	}
	v, err := vad.New(modelPath, w.vadCfg)
	if err != nil {
		w.logger.Error("failed to create vad", zap.Error(err))
		return
	}

	var lastSeq uint16
	haveLastSeq := false
	var rtpCount uint64
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-w.rtpCh:
			if !ok {
				w.logger.Debug("rtp channel closed, ingestion loop exiting")
				return
			}

			rtpCount++
			metrics.IncRTPPackets(w.conferenceID)
			metrics.AddRTPBytes(w.conferenceID, len(raw))
			if rtpCount == 1 || rtpCount%500 == 0 {
				w.logger.Info("rtp packets received", zap.Uint64("count", rtpCount), zap.Int("bytes", len(raw)))
			}

			packet, err := pipeline.ParseRTP(raw)
			if err != nil {
				w.logger.Warn("invalid rtp packet, skipping", zap.Error(err))
				continue
			}
			payload := packet.Payload()
			if len(payload) == 0 {
				continue
			}

			if haveLastSeq {
				expected := lastSeq + 1
				if packet.Header.SequenceNumber != expected {
					gap := packet.Header.SequenceNumber - lastSeq - 1
					n := int(gap)
					if n > 3 {
						n = 3
					}
					w.logger.Debug("rtp packet loss detected, running plc", zap.Int("gap", int(gap)))
					for i := 0; i < n; i++ {
						pcm, err := opusDecoder.DecodePLC()
						if err != nil {
							continue
						}
						if resampled := resampler.Process(pcm); len(resampled) > 0 {
							v.Process(resampled)
						}
					}
				}
			}
			lastSeq = packet.Header.SequenceNumber
			haveLastSeq = true

			pcm48k, err := opusDecoder.DecodeToMono(payload)
			if err != nil {
				w.logger.Warn("opus decode error", zap.Error(err))
				continue
			}

			pcm16k := resampler.Process(pcm48k)
			if len(pcm16k) == 0 {
				continue
			}

			events := v.Process(pcm16k)
			for _, ev := range events {
				w.logger.Info("speech segment ended, sending to asr",
					zap.Float64("duration_secs", ev.DurationSecs),
					zap.Int("samples", len(ev.Audio)),
				)
				elapsed := time.Since(start).Seconds()
				segment := SpeechSegment{
					Audio:         ev.Audio,
					StartTimeSecs: elapsed - ev.DurationSecs,
					EndTimeSecs:   elapsed,
				}
				select {
				case segmentCh <- segment:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *Worker) asrLoop(ctx context.Context, segmentCh <-chan SpeechSegment) {
	for {
		select {
		case <-ctx.Done():
			return
		case segment, ok := <-segmentCh:
			if !ok {
				return
			}

			start := time.Now()
			callCtx := ctx
			var cancel context.CancelFunc
			if w.asrTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, w.asrTimeout)
			}
			result, err := w.backend.Transcribe(callCtx, segment.Audio, w.language)
			if cancel != nil {
				cancel()
			}
			if err != nil {
				metrics.IncASRErrors(w.backend.Name())
				if callCtx.Err() == context.DeadlineExceeded {
					w.logger.Warn("asr transcription timed out, dropping segment",
						zap.Duration("timeout", w.asrTimeout),
						zap.Float64("duration_secs", segment.EndTimeSecs-segment.StartTimeSecs),
					)
				} else {
					w.logger.Warn("asr transcription error", zap.Error(err))
				}
				continue
			}

			text := strings.TrimSpace(result.Text)
			if text == "" {
				w.logger.Debug("asr returned empty text, skipping")
				continue
			}

			metrics.IncTranscriptEvents(w.conferenceID)
			w.bus.Publish(TranscriptEvent{
				ConferenceID:        w.conferenceID,
				ProducerID:          w.producerID,
				UserID:              w.userID,
				SpeakerName:         w.speakerName,
				Text:                text,
				Language:            result.Language,
				Confidence:          result.Confidence,
				StartTimeSecs:       segment.StartTimeSecs,
				EndTimeSecs:         segment.EndTimeSecs,
				InferenceDurationMs: float64(time.Since(start).Milliseconds()),
			})
		}
	}
}
