// Package vad implements the Silero VAD state machine: a fixed-chunk
// speech/silence classifier with hysteresis, pre-speech padding, and a
// forced cutoff on maximum utterance length.
package vad

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/aura-conferencing/core/internal/transcription/pipeline"
)

// ModelVersion distinguishes the two Silero ONNX graph shapes this engine
// supports. Detected automatically from the model's declared inputs.
type ModelVersion int

const (
	V4 ModelVersion = iota // separate h, c state tensors, [2,1,64]
	V5                     // combined state tensor, [2,1,128]
)

const (
	chunkSize    = 512   // 32ms at 16kHz
	sampleRate   = 16000
	v4HiddenSize = 64
	v5HiddenSize = 128
)

type vadState int

const (
	stateSilence vadState = iota
	stateSpeech
)

// Config holds the VAD's threshold/hysteresis/padding parameters. Defaults
// mirror the reference implementation's TranscriptionConfig defaults.
type Config struct {
	StartThreshold        float64
	EndThreshold          float64
	MinSpeechFrames       int
	MinSilenceFrames      int
	PreSpeechPadFrames    int
	MaxSpeechDurationSecs float64
}

// DefaultConfig returns the reference default thresholds.
func DefaultConfig() Config {
	return Config{
		StartThreshold:        0.5,
		EndThreshold:          0.35,
		MinSpeechFrames:       3,
		MinSilenceFrames:      15,
		PreSpeechPadFrames:    10,
		MaxSpeechDurationSecs: 30.0,
	}
}

// SpeechEnd is emitted when the state machine transitions out of Speech,
// either because of silence hysteresis or the max-duration force cutoff.
type SpeechEnd struct {
	Audio        []float32
	DurationSecs float64
}

// SileroVAD holds one ONNX inference session, created in New and run once
// per 512-sample frame. The session is guarded by the caller holding
// exclusive per-producer access (spec §5: "one lock per producer, never
// shared"), so this type itself does not add its own mutex.
type SileroVAD struct {
	session *ort.DynamicAdvancedSession
	version ModelVersion
	cfg     Config

	// v4 hidden/cell state, v5 combined state — only one set is active
	// depending on version.
	h, c     []float32
	combined []float32

	st               vadState
	speechFrames     int
	silenceFrames    int
	preSpeechRing    *pipeline.RingBuffer
	speechBuffer     []float32
	speechSamples    int
	maxSpeechSamples int

	pending []float32
}

// New loads the ONNX model at modelPath and auto-detects its version by
// inspecting declared input names: a "state" input means v5 (combined
// state); separate "h"/"c" inputs mean v4. A model exposing both is
// rejected — the spec flags this as worth an explicit assertion rather
// than silently picking one.
func New(modelPath string, cfg Config) (*SileroVAD, error) {
	inputs, _, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vad: inspect model %s: %w", modelPath, err)
	}

	hasState, hasH, hasC := false, false, false
	for _, in := range inputs {
		switch in.Name {
		case "state":
			hasState = true
		case "h":
			hasH = true
		case "c":
			hasC = true
		}
	}
	if hasState && (hasH || hasC) {
		return nil, fmt.Errorf("vad: model %s declares both v4 (h/c) and v5 (state) inputs; ambiguous version", modelPath)
	}

	version := V4
	inputNames := []string{"input", "sr", "h", "c"}
	outputNames := []string{"output", "hn", "cn"}
	if hasState {
		version = V5
		inputNames = []string{"input", "state", "sr"}
		outputNames = []string{"output", "stateN"}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("vad: load model %s: %w", modelPath, err)
	}

	v := &SileroVAD{
		session:          session,
		version:          version,
		cfg:              cfg,
		preSpeechRing:    pipeline.NewRingBuffer(cfg.PreSpeechPadFrames),
		maxSpeechSamples: int(cfg.MaxSpeechDurationSecs * sampleRate),
	}
	v.resetTensors()
	return v, nil
}

func (v *SileroVAD) resetTensors() {
	switch v.version {
	case V4:
		v.h = make([]float32, 2*v4HiddenSize)
		v.c = make([]float32, 2*v4HiddenSize)
	case V5:
		v.combined = make([]float32, 2*v5HiddenSize)
	}
}

// Process consumes samples, buffering into fixed 512-sample frames, and
// returns every SpeechEnd event produced by the frames processed so far.
func (v *SileroVAD) Process(samples []float32) []SpeechEnd {
	v.pending = append(v.pending, samples...)
	var events []SpeechEnd
	for len(v.pending) >= chunkSize {
		frame := v.pending[:chunkSize]
		v.pending = v.pending[chunkSize:]
		if ev, ok := v.processChunk(frame); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (v *SileroVAD) processChunk(frame []float32) (SpeechEnd, bool) {
	prob, err := v.runInference(frame)
	if err != nil {
		// Inference failures are not reported to the caller; treat as
		// silence for this frame rather than crash the pipeline.
		prob = 0
	}

	switch v.st {
	case stateSilence:
		if prob >= v.cfg.StartThreshold {
			v.speechFrames++
		} else {
			v.speechFrames = 0
		}
		if v.speechFrames >= v.cfg.MinSpeechFrames {
			v.speechBuffer = v.preSpeechRing.DrainAll()
			v.speechBuffer = append(v.speechBuffer, frame...)
			v.speechSamples = len(v.speechBuffer)
			v.speechFrames = 0
			v.silenceFrames = 0
			v.st = stateSpeech
		} else {
			frameCopy := append([]float32(nil), frame...)
			v.preSpeechRing.Push(frameCopy)
		}
		return SpeechEnd{}, false

	case stateSpeech:
		v.speechBuffer = append(v.speechBuffer, frame...)
		v.speechSamples += len(frame)

		if v.speechSamples >= v.maxSpeechSamples {
			return v.emitSpeechEnd(), true
		}
		if prob < v.cfg.EndThreshold {
			v.silenceFrames++
			if v.silenceFrames >= v.cfg.MinSilenceFrames {
				return v.emitSpeechEnd(), true
			}
		} else {
			v.silenceFrames = 0
		}
		return SpeechEnd{}, false
	}

	return SpeechEnd{}, false
}

func (v *SileroVAD) emitSpeechEnd() SpeechEnd {
	audio := v.speechBuffer
	ev := SpeechEnd{Audio: audio, DurationSecs: float64(len(audio)) / sampleRate}
	v.speechBuffer = nil
	v.speechSamples = 0
	v.speechFrames = 0
	v.silenceFrames = 0
	v.preSpeechRing.Clear()
	v.st = stateSilence
	return ev
}

// Reset clears all buffers, counters, and state tensors so no partial
// utterance carries over into later input. The transcription worker builds
// a fresh SileroVAD for each run and does not call it.
func (v *SileroVAD) Reset() {
	v.pending = nil
	v.speechBuffer = nil
	v.speechSamples = 0
	v.speechFrames = 0
	v.silenceFrames = 0
	v.st = stateSilence
	v.preSpeechRing.Clear()
	v.resetTensors()
}

func (v *SileroVAD) runInference(frame []float32) (float64, error) {
	if v.version == V5 {
		return v.runInferenceV5(frame)
	}
	return v.runInferenceV4(frame)
}

func (v *SileroVAD) runInferenceV4(frame []float32) (float64, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(frame))), frame)
	if err != nil {
		return 0, err
	}
	defer inputTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		return 0, err
	}
	defer srTensor.Destroy()

	hTensor, err := ort.NewTensor(ort.NewShape(2, 1, v4HiddenSize), v.h)
	if err != nil {
		return 0, err
	}
	defer hTensor.Destroy()

	cTensor, err := ort.NewTensor(ort.NewShape(2, 1, v4HiddenSize), v.c)
	if err != nil {
		return 0, err
	}
	defer cTensor.Destroy()

	outProb, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, err
	}
	defer outProb.Destroy()
	outH, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, v4HiddenSize))
	if err != nil {
		return 0, err
	}
	defer outH.Destroy()
	outC, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, v4HiddenSize))
	if err != nil {
		return 0, err
	}
	defer outC.Destroy()

	if err := v.session.Run(
		[]ort.Value{inputTensor, srTensor, hTensor, cTensor},
		[]ort.Value{outProb, outH, outC},
	); err != nil {
		return 0, err
	}

	copy(v.h, outH.GetData())
	copy(v.c, outC.GetData())
	data := outProb.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("vad: empty inference output")
	}
	return float64(data[0]), nil
}

func (v *SileroVAD) runInferenceV5(frame []float32) (float64, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(frame))), frame)
	if err != nil {
		return 0, err
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, v5HiddenSize), v.combined)
	if err != nil {
		return 0, err
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(), []int64{sampleRate})
	if err != nil {
		return 0, err
	}
	defer srTensor.Destroy()

	outProb, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, err
	}
	defer outProb.Destroy()
	outState, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, v5HiddenSize))
	if err != nil {
		return 0, err
	}
	defer outState.Destroy()

	if err := v.session.Run(
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outProb, outState},
	); err != nil {
		return 0, err
	}

	copy(v.combined, outState.GetData())
	data := outProb.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("vad: empty inference output")
	}
	return float64(data[0]), nil
}
