// Package metrics exposes Prometheus gauges/counters for the conferencing
// core: live rooms, active transcription pipelines, and per-conference RTP
// volume. Adapted from the reference SFU metrics package to this domain's
// labels (conference instead of room, pipelines instead of subscribers).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conferencing_rooms",
		Help: "Current number of live media rooms",
	})

	Peers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conferencing_peers",
		Help: "Current peers per conference",
	}, []string{"conference"})

	ActivePipelines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conferencing_transcription_pipelines",
		Help: "Current number of active per-producer transcription pipelines",
	})

	RTPBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conferencing_rtp_bytes_total",
		Help: "Total RTP bytes ingested by the transcription pipeline, per conference",
	}, []string{"conference"})

	RTPPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conferencing_rtp_packets_total",
		Help: "Total RTP packets ingested by the transcription pipeline, per conference",
	}, []string{"conference"})

	TranscriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conferencing_transcript_events_total",
		Help: "Total transcript events emitted, per conference",
	}, []string{"conference"})

	ASRErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conferencing_asr_errors_total",
		Help: "Total ASR backend errors, per backend",
	}, []string{"backend"})
)

func SetRooms(n float64)              { Rooms.Set(n) }
func SetPeers(conferenceID string, n float64) { Peers.WithLabelValues(conferenceID).Set(n) }
func SetActivePipelines(n float64)    { ActivePipelines.Set(n) }
func AddRTPBytes(conferenceID string, n int) {
	RTPBytes.WithLabelValues(conferenceID).Add(float64(n))
}
func IncRTPPackets(conferenceID string) { RTPPackets.WithLabelValues(conferenceID).Inc() }
func IncTranscriptEvents(conferenceID string) {
	TranscriptEvents.WithLabelValues(conferenceID).Inc()
}
func IncASRErrors(backend string) { ASRErrors.WithLabelValues(backend).Inc() }
