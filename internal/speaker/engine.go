// Package speaker implements the speaker identity engine: per-file voice
// embeddings aggregated from diarized segments, cross-file matching over the
// vector index, name propagation, and consolidated speaker profiles.
//
// All matching is scoped to a single user. Confidence bands follow cosine
// similarity: at or above [config.SpeakerConfig.HighConfidence] a verified
// name is applied automatically; between medium and high the pair is only
// recorded as a suggestion; below medium it is discarded.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/config"
	"github.com/tobfr/verbatim/internal/observe"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/vector"
	"github.com/tobfr/verbatim/pkg/provider/voice"
)

// Segment selection for embedding: intervals shorter than minSegmentSec carry
// too little voice signal, and five segments per label are enough to anchor
// the mean.
const (
	minSegmentSec       = 0.5
	segmentsPerLabel    = 5
	matchTopK           = 5
	fuzzyNameMaxOSADist = 1
)

// rawLabelPattern matches unedited diarization labels ("SPEAKER_00"). A
// speaker still carrying one has no verified name to propagate.
var rawLabelPattern = regexp.MustCompile(`^SPEAKER_\d+$`)

// IsRawLabel reports whether name is an unedited diarization label.
func IsRawLabel(name string) bool {
	return rawLabelPattern.MatchString(name)
}

// SpeakerStore is the slice of the speaker store the engine needs.
type SpeakerStore interface {
	Create(ctx context.Context, sp store.Speaker) (store.Speaker, error)
	Get(ctx context.Context, id uuid.UUID) (store.Speaker, error)
	Rename(ctx context.Context, id uuid.UUID, name string, verified bool) (store.Speaker, error)
	LinkProfile(ctx context.Context, id, profileID uuid.UUID) error
	ListForProfile(ctx context.Context, profileID uuid.UUID) ([]store.Speaker, error)
}

// ProfileStore is the slice of the profile store the engine needs.
type ProfileStore interface {
	Create(ctx context.Context, p store.SpeakerProfile) (store.SpeakerProfile, error)
	Get(ctx context.Context, id uuid.UUID) (store.SpeakerProfile, error)
	GetByName(ctx context.Context, userID uuid.UUID, name string) (store.SpeakerProfile, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]store.SpeakerProfile, error)
	SetSpeakerCount(ctx context.Context, id uuid.UUID, count int) error
}

// MatchStore records cross-file speaker matches.
type MatchStore interface {
	Upsert(ctx context.Context, a, b uuid.UUID, confidence float64) (store.SpeakerMatch, error)
	ListForSpeaker(ctx context.Context, speakerID uuid.UUID) ([]store.SpeakerMatch, error)
}

// SegmentStore assigns resolved speakers back onto transcript segments.
type SegmentStore interface {
	AssignSpeaker(ctx context.Context, fileID uuid.UUID, diarizationLabel string, speakerID uuid.UUID) (int64, error)
}

// Settings exposes the runtime toggle for automatic labeling.
type Settings interface {
	GetBool(ctx context.Context, key string, def bool) (bool, error)
}

// Index is the embedding index surface the engine uses. Satisfied by
// [vector.Index].
type Index interface {
	Upsert(ctx context.Context, ownerID uuid.UUID, ownerType vector.OwnerType, userID uuid.UUID, embedding []float32) error
	Get(ctx context.Context, ownerID uuid.UUID, ownerType vector.OwnerType) ([]float32, error)
	MGet(ctx context.Context, ownerIDs []uuid.UUID, ownerType vector.OwnerType) (map[uuid.UUID][]float32, error)
	KNN(ctx context.Context, userID uuid.UUID, ownerType vector.OwnerType, embedding []float32, topK int, exclude []uuid.UUID) ([]vector.Neighbor, error)
	Count(ctx context.Context, userID uuid.UUID, ownerType vector.OwnerType) (int, error)
}

// AudioOpener yields a fresh reader over the file's full media content. It is
// called once per embedded segment; the engine closes each reader.
type AudioOpener func(ctx context.Context) (io.ReadCloser, error)

// Suggestion is a medium-band match surfaced for user review.
type Suggestion struct {
	SpeakerID   uuid.UUID
	MatchedID   uuid.UUID
	MatchedName string
	Confidence  float64
}

// Engine runs the identity pipeline.
type Engine struct {
	speakers SpeakerStore
	profiles ProfileStore
	matches  MatchStore
	segments SegmentStore
	settings Settings
	index    Index
	embed    voice.Provider

	cfg     config.SpeakerConfig
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates an Engine. metrics may be nil to skip recording; logger may be
// nil.
func New(
	speakers SpeakerStore,
	profiles ProfileStore,
	matches MatchStore,
	segments SegmentStore,
	settings Settings,
	index Index,
	embed voice.Provider,
	cfg config.SpeakerConfig,
	metrics *observe.Metrics,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		speakers: speakers,
		profiles: profiles,
		matches:  matches,
		segments: segments,
		settings: settings,
		index:    index,
		embed:    embed,
		cfg:      cfg,
		metrics:  metrics,
		log:      logger,
	}
}

// ProcessFile creates one speaker per diarization label, assigns segments,
// computes and stores voice embeddings, and matches each new speaker against
// the user's existing population. Matching failures are logged and do not
// fail the call; the transcript itself is already persisted by the caller.
func (e *Engine) ProcessFile(ctx context.Context, file store.MediaFile, segments []store.TranscriptSegment, open AudioOpener) ([]store.Speaker, error) {
	byLabel := map[string][]store.TranscriptSegment{}
	for _, seg := range segments {
		if seg.DiarizationLabel == "" {
			continue
		}
		byLabel[seg.DiarizationLabel] = append(byLabel[seg.DiarizationLabel], seg)
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	created := make([]store.Speaker, 0, len(labels))
	for _, label := range labels {
		sp, err := e.speakers.Create(ctx, store.Speaker{
			ID:     uuid.New(),
			UserID: file.UserID,
			FileID: file.ID,
			Name:   label,
		})
		if err != nil {
			return created, fmt.Errorf("speaker: create %q: %w", label, err)
		}
		if _, err := e.segments.AssignSpeaker(ctx, file.ID, label, sp.ID); err != nil {
			return created, fmt.Errorf("speaker: assign segments for %q: %w", label, err)
		}
		created = append(created, sp)
	}

	// Embed after all speakers exist so cross-matching can exclude every
	// file-mate, not just the ones created so far.
	mates := make([]uuid.UUID, len(created))
	for i, sp := range created {
		mates[i] = sp.ID
	}

	for _, sp := range created {
		emb, err := e.embedLabel(ctx, byLabel[sp.Name], open)
		if err != nil {
			e.log.Warn("voice embedding failed",
				"file_id", file.ID, "label", sp.Name, "error", err)
			continue
		}
		if emb == nil {
			// No segment long enough to embed.
			continue
		}
		if err := e.index.Upsert(ctx, sp.ID, vector.OwnerSpeaker, file.UserID, emb); err != nil {
			e.log.Warn("store voice embedding",
				"file_id", file.ID, "speaker_id", sp.ID, "error", err)
			continue
		}
		if err := e.matchSpeaker(ctx, sp, emb, mates); err != nil {
			e.log.Warn("cross-file speaker matching",
				"file_id", file.ID, "speaker_id", sp.ID, "error", err)
		}
	}
	return created, nil
}

// embedLabel selects the label's usable segments, embeds each, and returns
// the normalized mean. Returns nil when no segment qualifies.
func (e *Engine) embedLabel(ctx context.Context, segments []store.TranscriptSegment, open AudioOpener) ([]float32, error) {
	picked := pickSegments(segments)
	if len(picked) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(picked))
	for _, seg := range picked {
		audio, err := open(ctx)
		if err != nil {
			return nil, fmt.Errorf("open audio: %w", err)
		}
		v, err := e.embed.Embed(ctx, voice.Request{
			Audio: audio,
			Start: seg.StartSec,
			End:   seg.EndSec,
		})
		_ = audio.Close()
		if err != nil {
			return nil, fmt.Errorf("embed segment [%g,%g): %w", seg.StartSec, seg.EndSec, err)
		}
		vectors = append(vectors, v)
	}
	return MeanNormalized(vectors), nil
}

// pickSegments filters out segments shorter than minSegmentSec and returns
// the segmentsPerLabel longest of the remainder.
func pickSegments(segments []store.TranscriptSegment) []store.TranscriptSegment {
	usable := make([]store.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.EndSec-seg.StartSec >= minSegmentSec {
			usable = append(usable, seg)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		di := usable[i].EndSec - usable[i].StartSec
		dj := usable[j].EndSec - usable[j].StartSec
		if di != dj {
			return di > dj
		}
		return usable[i].Index < usable[j].Index
	})
	if len(usable) > segmentsPerLabel {
		usable = usable[:segmentsPerLabel]
	}
	return usable
}

// matchSpeaker probes the user's speaker and profile populations for the new
// embedding. Medium-band neighbors are recorded as suggestions; the best
// high-band neighbor with a verified name is applied automatically when the
// auto-labeling setting allows.
func (e *Engine) matchSpeaker(ctx context.Context, sp store.Speaker, emb []float32, fileMates []uuid.UUID) error {
	n, err := e.index.Count(ctx, sp.UserID, vector.OwnerSpeaker)
	if err != nil {
		return fmt.Errorf("speaker: count embeddings: %w", err)
	}
	// Everything indexed so far may belong to this very file.
	if n <= len(fileMates) {
		return e.matchProfiles(ctx, sp, emb, false)
	}

	neighbors, err := e.index.KNN(ctx, sp.UserID, vector.OwnerSpeaker, emb, matchTopK, fileMates)
	if err != nil {
		return fmt.Errorf("speaker: knn: %w", err)
	}

	autoLabel, err := e.autoLabelingEnabled(ctx)
	if err != nil {
		return err
	}

	named := false
	for _, nb := range neighbors {
		if nb.Similarity < e.cfg.MediumConfidence {
			break
		}
		if _, err := e.matches.Upsert(ctx, sp.ID, nb.OwnerID, nb.Similarity); err != nil {
			return fmt.Errorf("speaker: record match: %w", err)
		}
		e.recordMatch(ctx, nb.Similarity)

		if named || !autoLabel || nb.Similarity < e.cfg.HighConfidence {
			continue
		}
		other, err := e.speakers.Get(ctx, nb.OwnerID)
		if err != nil {
			return fmt.Errorf("speaker: load matched speaker: %w", err)
		}
		if !Verified(other) {
			continue
		}
		// The applied name stays verified so it can chain to the next file.
		if _, err := e.speakers.Rename(ctx, sp.ID, other.Name, true); err != nil {
			return fmt.Errorf("speaker: apply matched name: %w", err)
		}
		if other.ProfileID != nil {
			if err := e.linkAndConsolidate(ctx, sp.ID, *other.ProfileID, emb); err != nil {
				return err
			}
		}
		named = true
		e.log.Info("speaker auto-labeled from match",
			"speaker_id", sp.ID, "matched_id", other.ID,
			"name", other.Name, "confidence", nb.Similarity)
	}

	return e.matchProfiles(ctx, sp, emb, named)
}

// matchProfiles probes the consolidated profile population. The count
// pre-probe is required: a kNN over zero rows matching the filter wastes an
// index scan and some pgvector versions error on it.
func (e *Engine) matchProfiles(ctx context.Context, sp store.Speaker, emb []float32, alreadyNamed bool) error {
	n, err := e.index.Count(ctx, sp.UserID, vector.OwnerProfile)
	if err != nil {
		return fmt.Errorf("speaker: count profile embeddings: %w", err)
	}
	if n == 0 {
		return nil
	}

	neighbors, err := e.index.KNN(ctx, sp.UserID, vector.OwnerProfile, emb, 1, nil)
	if err != nil {
		return fmt.Errorf("speaker: profile knn: %w", err)
	}
	if len(neighbors) == 0 || neighbors[0].Similarity < e.cfg.HighConfidence {
		return nil
	}

	autoLabel, err := e.autoLabelingEnabled(ctx)
	if err != nil {
		return err
	}
	if !autoLabel || alreadyNamed {
		return nil
	}

	p, err := e.profiles.Get(ctx, neighbors[0].OwnerID)
	if err != nil {
		return fmt.Errorf("speaker: load matched profile: %w", err)
	}
	if _, err := e.speakers.Rename(ctx, sp.ID, p.Name, true); err != nil {
		return fmt.Errorf("speaker: apply profile name: %w", err)
	}
	if err := e.linkAndConsolidate(ctx, sp.ID, p.ID, emb); err != nil {
		return err
	}
	e.recordMatch(ctx, neighbors[0].Similarity)
	e.log.Info("speaker labeled from profile",
		"speaker_id", sp.ID, "profile_id", p.ID,
		"name", p.Name, "confidence", neighbors[0].Similarity)
	return nil
}

// Suggestions returns the recorded matches for a speaker that sit below the
// auto-apply threshold, newest confidence first, for UI review.
func (e *Engine) Suggestions(ctx context.Context, speakerID uuid.UUID) ([]Suggestion, error) {
	recorded, err := e.matches.ListForSpeaker(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("speaker: list matches: %w", err)
	}

	var out []Suggestion
	for _, m := range recorded {
		if m.Confidence >= e.cfg.HighConfidence {
			continue
		}
		otherID := m.SpeakerLow
		if otherID == speakerID {
			otherID = m.SpeakerHigh
		}
		other, err := e.speakers.Get(ctx, otherID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("speaker: load suggestion counterpart: %w", err)
		}
		out = append(out, Suggestion{
			SpeakerID:   speakerID,
			MatchedID:   other.ID,
			MatchedName: other.Name,
			Confidence:  m.Confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Verified reports whether a speaker carries a trusted name: marked verified
// and not a raw diarization label.
func Verified(sp store.Speaker) bool {
	return sp.Verified && sp.Name != "" && !rawLabelPattern.MatchString(sp.Name)
}

func (e *Engine) autoLabelingEnabled(ctx context.Context) (bool, error) {
	on, err := e.settings.GetBool(ctx, store.SettingAutoSpeakerLabeling, true)
	if err != nil {
		return false, fmt.Errorf("speaker: read auto-labeling setting: %w", err)
	}
	return on, nil
}

func (e *Engine) recordMatch(ctx context.Context, confidence float64) {
	if e.metrics == nil {
		return
	}
	band := "medium"
	if confidence >= e.cfg.HighConfidence {
		band = "high"
	}
	e.metrics.RecordSpeakerMatch(ctx, band)
}
