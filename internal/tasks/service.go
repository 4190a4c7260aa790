// Package tasks wires the processing pipeline together: submission of task
// rows onto the redis queues, the dispatcher the worker pool runs, and the
// per-type handlers (transcription, download, waveform, analytics, the NLP
// stages, and the system beats).
//
// The transcription handler is the pipeline's spine: it transcribes, cleans
// and persists the transcript, runs the speaker identity engine inline, and
// fans out the best-effort child stages. Child-stage failures never take the
// file down; transcription failures do.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tobfr/verbatim/internal/blob"
	"github.com/tobfr/verbatim/internal/config"
	"github.com/tobfr/verbatim/internal/notify"
	"github.com/tobfr/verbatim/internal/observe"
	"github.com/tobfr/verbatim/internal/queue"
	"github.com/tobfr/verbatim/internal/resilience"
	"github.com/tobfr/verbatim/internal/speaker"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/summarize"
	"github.com/tobfr/verbatim/internal/topics"
	"github.com/tobfr/verbatim/pkg/provider/llm"
	"github.com/tobfr/verbatim/pkg/provider/transcribe"
)

// RecoveryRunner is the slice of the recovery subsystem the system beats
// invoke. Injected after construction to break the submit-hook cycle:
// recovery resubmits files through this service.
type RecoveryRunner interface {
	Run(ctx context.Context) error
	RunOrphanCleanup(ctx context.Context) error
}

// handlerFunc executes one claimed task. A nil return completes the task;
// an error routes through the retry policy.
type handlerFunc func(ctx context.Context, task store.Task) error

// Service owns task submission and execution.
type Service struct {
	store  *store.Store
	blobs  *blob.Store
	broker *queue.Broker
	router *queue.Router
	bus    *notify.Bus

	speakers    *speaker.Engine
	summarizer  *summarize.Summarizer
	topics      *topics.Extractor
	transcriber transcribe.Provider
	llm         llm.Provider
	downloader  Downloader
	gpu         GPUProber
	recovery    RecoveryRunner

	// modelBreaker guards outbound model calls (transcription, LLM) so a
	// flapping provider fails fast instead of burning every task's retry
	// budget.
	modelBreaker *resilience.CircuitBreaker

	cfg     config.Config
	metrics *observe.Metrics
	log     *slog.Logger

	handlers map[string]handlerFunc
	system   map[string]func(context.Context) error
}

// Deps carries the collaborators for [New]. Downloader and GPU may be nil;
// defaults are installed.
type Deps struct {
	Store       *store.Store
	Blobs       *blob.Store
	Broker      *queue.Broker
	Router      *queue.Router
	Bus         *notify.Bus
	Speakers    *speaker.Engine
	Summarizer  *summarize.Summarizer
	Topics      *topics.Extractor
	Transcriber transcribe.Provider
	LLM         llm.Provider
	Downloader  Downloader
	GPU         GPUProber
	Metrics     *observe.Metrics
	Logger      *slog.Logger
}

// New creates the task service.
func New(cfg config.Config, d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Downloader == nil {
		d.Downloader = NewHTTPDownloader(nil)
	}
	if d.GPU == nil {
		d.GPU = NoopProber{}
	}

	s := &Service{
		store:        d.Store,
		blobs:        d.Blobs,
		broker:       d.Broker,
		router:       d.Router,
		bus:          d.Bus,
		speakers:     d.Speakers,
		summarizer:   d.Summarizer,
		topics:       d.Topics,
		transcriber:  d.Transcriber,
		llm:          d.LLM,
		downloader:   d.Downloader,
		gpu:          d.GPU,
		modelBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "model-providers"}),
		cfg:          cfg,
		metrics:      d.Metrics,
		log:          d.Logger,
	}

	s.handlers = map[string]handlerFunc{
		queue.TypeTranscription:   s.runTranscription,
		queue.TypeYouTubeDownload: s.runDownload,
		queue.TypeWaveform:        s.runWaveform,
		queue.TypeAnalytics:       s.runAnalytics,
		queue.TypeSummarization:   s.runSummarization,
		queue.TypeTopicExtraction: s.runTopicExtraction,
		queue.TypeSpeakerHints:    s.runSpeakerHints,
	}
	s.system = map[string]func(context.Context) error{
		queue.TypeTaskRecovery:  s.runRecoveryPass,
		queue.TypeOrphanCleanup: s.runOrphanCleanup,
		queue.TypeHealthCheck:   s.runHealthCheck,
		queue.TypeGPUStats:      s.runGPUStats,
	}
	return s
}

// SetRecovery installs the recovery runner the system beats call. Must be
// set before the worker pool starts.
func (s *Service) SetRecovery(r RecoveryRunner) { s.recovery = r }

// ─────────────────────────────────────────────────────────────────────────────
// Submission
// ─────────────────────────────────────────────────────────────────────────────

// Submit creates a task row and pushes its job onto the routed queue. When
// the push fails the row is immediately failed and the queue error returned,
// so no task can sit QUEUED with no job behind it.
func (s *Service) Submit(ctx context.Context, fileID, userID uuid.UUID, taskType string) (store.Task, error) {
	q, err := s.router.Route(taskType)
	if err != nil {
		return store.Task{}, err
	}

	task, err := s.store.Tasks.Create(ctx, store.Task{
		ID:     uuid.New(),
		FileID: fileID,
		UserID: userID,
		Type:   taskType,
		Queue:  q,
	})
	if err != nil {
		return store.Task{}, fmt.Errorf("tasks: create %s: %w", taskType, err)
	}

	job := queue.Job{
		TaskID:  task.ID,
		FileID:  fileID,
		UserID:  userID,
		Type:    taskType,
		Attempt: task.Attempt,
	}
	if err := s.broker.Enqueue(ctx, q, job); err != nil {
		if _, failErr := s.store.Tasks.Fail(ctx, task.ID, "PROCESSING_ERROR: queue unavailable"); failErr != nil {
			s.log.Error("fail unqueued task", "task_id", task.ID, "error", failErr)
		}
		return task, err
	}

	if s.metrics != nil {
		s.metrics.TasksSubmitted.Add(ctx, 1, metric.WithAttributes(
			observe.Attr("queue", q), observe.Attr("task_type", taskType)))
	}
	s.log.Info("task submitted",
		"task_id", task.ID, "file_id", fileID, "task_type", taskType, "queue", q)
	return task, nil
}

// SubmitPipeline launches a file's processing from its source: a download
// task for URL-sourced files, transcription for uploads. Used for fresh
// files and by recovery resubmission.
func (s *Service) SubmitPipeline(ctx context.Context, file store.MediaFile) error {
	taskType := queue.TypeTranscription
	if file.SourceURL != "" && file.SizeBytes == 0 {
		taskType = queue.TypeYouTubeDownload
	}
	_, err := s.Submit(ctx, file.ID, file.UserID, taskType)
	return err
}

// ResubmitFile is the recovery resubmission hook.
func (s *Service) ResubmitFile(ctx context.Context, file store.MediaFile) error {
	return s.SubmitPipeline(ctx, file)
}

// CancelFile requests cancellation: the file moves to CANCELLING, queued and
// running tasks are cancelled in the database, and when nothing is active
// anymore the file settles in CANCELLED. A running worker discovers the
// cancellation on its next task-row touch; the state machine guarantees it
// can no longer complete the file.
func (s *Service) CancelFile(ctx context.Context, fileID uuid.UUID) (store.MediaFile, error) {
	f, err := s.store.Files.Transition(ctx, fileID, store.StatusCancelling)
	if err != nil {
		return store.MediaFile{}, err
	}

	n, err := s.store.Tasks.CancelForFile(ctx, fileID)
	if err != nil {
		return f, fmt.Errorf("tasks: cancel for file: %w", err)
	}
	s.log.Info("file cancelling", "file_id", fileID, "tasks_cancelled", n)

	active, err := s.store.Tasks.ActiveCount(ctx, fileID)
	if err != nil {
		return f, err
	}
	if active == 0 {
		if f, err = s.store.Files.Transition(ctx, fileID, store.StatusCancelled); err != nil {
			return f, err
		}
	}

	s.publishFileStatus(ctx, f)
	return f, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifications
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) publishFileStatus(ctx context.Context, f store.MediaFile) {
	s.publish(ctx, notify.EventFileStatus, f.UserID, f.ID, map[string]any{
		"status":   f.Status,
		"progress": f.Progress,
		"message":  f.LastErrorMessage,
	})
}

func (s *Service) publishProgress(ctx context.Context, userID, fileID uuid.UUID, progress float64) {
	s.publish(ctx, notify.EventFileProgress, userID, fileID, map[string]any{
		"progress": progress,
	})
}

func (s *Service) publish(ctx context.Context, eventType string, userID, fileID uuid.UUID, payload any) {
	if s.bus == nil {
		return
	}
	ev, err := notify.NewEvent(eventType, userID, fileID, payload)
	if err != nil {
		s.log.Error("encode notification", "event_type", eventType, "error", err)
		return
	}
	s.bus.Publish(ctx, ev)
	if s.metrics != nil {
		s.metrics.NotificationsPublished.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("event_type", eventType)))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Beats
// ─────────────────────────────────────────────────────────────────────────────

// Beats returns the scheduled system jobs. Each fires by enqueueing a job on
// the beat's routed queue, so system work flows through the same claim/ack
// path as file work and a crashed run is visible on a claim list.
func (s *Service) Beats() []queue.Beat {
	beat := func(name string, every time.Duration) queue.Beat {
		return queue.Beat{
			Name:  name,
			Every: every,
			Run: func(ctx context.Context) error {
				q, err := s.router.Route(name)
				if err != nil {
					return err
				}
				return s.broker.Enqueue(ctx, q, queue.Job{
					TaskID:  uuid.New(),
					Type:    name,
					Attempt: 1,
				})
			},
		}
	}
	return []queue.Beat{
		beat(queue.TypeHealthCheck, 10*time.Minute),
		beat(queue.TypeGPUStats, 30*time.Second),
		beat(queue.TypeTaskRecovery, 10*time.Minute),
		beat(queue.TypeOrphanCleanup, time.Hour),
	}
}

func (s *Service) runRecoveryPass(ctx context.Context) error {
	if s.recovery == nil {
		return errors.New("tasks: recovery runner not installed")
	}
	return s.recovery.Run(ctx)
}

func (s *Service) runOrphanCleanup(ctx context.Context) error {
	if s.recovery == nil {
		return errors.New("tasks: recovery runner not installed")
	}
	return s.recovery.RunOrphanCleanup(ctx)
}
