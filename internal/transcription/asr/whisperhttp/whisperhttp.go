// Package whisperhttp implements asr.Backend against a whisper.cpp-style
// HTTP inference server (POST /inference, multipart/form-data, JSON
// {"text": "..."} response).
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/aura-conferencing/core/internal/transcription/asr"
)

const (
	sampleRate    = 16000
	channels      = 1
	bitsPerSample = 16
)

// Backend transcribes already-segmented 16kHz mono float32 speech via a
// whisper.cpp HTTP server.
type Backend struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

var _ asr.Backend = (*Backend)(nil)

// New builds a whisper.cpp HTTP backend against endpoint (e.g.
// "http://localhost:8080"). model may be empty, in which case the server's
// own default model applies.
func New(endpoint, model string) *Backend {
	return &Backend{
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name identifies this backend for config/override selection.
func (b *Backend) Name() string { return "whisper" }

// SupportsLanguage is permissive: whisper.cpp auto-detects when no
// language hint is supplied, and accepts any ISO 639-1 code as a hint.
func (b *Backend) SupportsLanguage(_ string) bool { return true }

// Transcribe encodes audio as a WAV file and posts it to the server's
// /inference endpoint.
func (b *Backend) Transcribe(ctx context.Context, audio []float32, language string) (asr.Result, error) {
	start := time.Now()
	pcm := encodePCM16(audio)
	wav := encodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: write wav: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return asr.Result{}, fmt.Errorf("whisperhttp: write language field: %w", err)
		}
	}
	if b.model != "" {
		if err := mw.WriteField("model", b.model); err != nil {
			return asr.Result{}, fmt.Errorf("whisperhttp: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/inference", &body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asr.Result{}, fmt.Errorf("whisperhttp: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: read response: %w", err)
	}

	var parsed struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Prob     float64 `json:"language_probability"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return asr.Result{}, fmt.Errorf("whisperhttp: parse response: %w", err)
	}

	lang := parsed.Language
	if lang == "" {
		lang = language
	}

	return asr.Result{
		Text:          parsed.Text,
		Language:      lang,
		Confidence:    parsed.Prob,
		InferenceTime: time.Since(start).Seconds(),
	}, nil
}

func encodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}

// encodeWAV wraps raw 16-bit signed little-endian PCM in a RIFF/WAV
// container for upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}
