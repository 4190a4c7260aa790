// Package queue routes tasks to redis-backed work queues and runs the
// per-queue worker pools.
//
// Five queues with different concurrency characteristics:
//
//	gpu      — transcription and gpu stats sampling; a global single slot,
//	           the model saturates the device
//	download — URL/YouTube fetches; network-bound
//	cpu      — waveform and analytics; compute-bound, NumCPU slots
//	nlp      — LLM stages (summaries, topics, speaker hints)
//	utility  — recovery, cleanup, health sampling
//
// Jobs travel as JSON envelopes on one redis list per queue. A worker claims
// a job by atomically moving it onto its own claim list (BLMOVE), so jobs a
// crashed worker never finished remain visible and recovery can requeue them
// on the next boot.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/config"
)

// Queue names.
const (
	GPU      = "gpu"
	Download = "download"
	CPU      = "cpu"
	NLP      = "nlp"
	Utility  = "utility"
)

// Task types known to the router.
const (
	TypeTranscription   = "transcription"
	TypeYouTubeDownload = "youtube_download"
	TypeWaveform        = "waveform"
	TypeAnalytics       = "analytics"
	TypeSummarization   = "summarization"
	TypeTopicExtraction = "topic_extraction"
	TypeSpeakerHints    = "speaker_hints"
	TypeHealthCheck     = "periodic_health_check"
	TypeGPUStats        = "update_gpu_stats"
	TypeTaskRecovery    = "task_recovery"
	TypeOrphanCleanup   = "orphan_cleanup"
)

// ErrUnknownTaskType is returned by [Router.Route] for task types absent
// from the routing table.
var ErrUnknownTaskType = errors.New("queue: unknown task type")

// routing is the static task-type to queue table.
var routing = map[string]string{
	TypeTranscription:   GPU,
	TypeYouTubeDownload: Download,
	TypeWaveform:        CPU,
	TypeAnalytics:       CPU,
	TypeSummarization:   NLP,
	TypeTopicExtraction: NLP,
	TypeSpeakerHints:    NLP,
	TypeHealthCheck:     Utility,
	TypeGPUStats:        GPU, // samples the device the transcription slot owns
	TypeTaskRecovery:    Utility,
	TypeOrphanCleanup:   Utility,
}

// Job is the JSON envelope carried on the redis lists.
type Job struct {
	TaskID     uuid.UUID `json:"task_id"`
	FileID     uuid.UUID `json:"media_file_id,omitempty"`
	UserID     uuid.UUID `json:"user_id,omitempty"`
	Type       string    `json:"task_type"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Router maps task types to queues and knows each queue's concurrency.
type Router struct {
	concurrency map[string]int
}

// NewRouter builds a Router from the configured per-queue worker counts.
func NewRouter(cfg config.QueuesConfig) *Router {
	return &Router{concurrency: map[string]int{
		GPU:      cfg.GPU,
		Download: cfg.Download,
		CPU:      cfg.CPU,
		NLP:      cfg.NLP,
		Utility:  cfg.Utility,
	}}
}

// Route returns the queue for a task type, or [ErrUnknownTaskType].
func (r *Router) Route(taskType string) (string, error) {
	q, ok := routing[taskType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	return q, nil
}

// Concurrency returns the worker slot count for a queue. Unknown queues
// report 0.
func (r *Router) Concurrency(queue string) int {
	return r.concurrency[queue]
}

// Queues returns all queue names in a stable order.
func Queues() []string {
	return []string{GPU, Download, CPU, NLP, Utility}
}
