package speaker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/vector"
)

// NameResult is the outcome of a manual speaker rename: the updated speaker,
// the profile it was folded into, and any near-miss profile names the user
// may have meant instead.
type NameResult struct {
	Speaker store.Speaker
	Profile store.SpeakerProfile

	// SimilarNames lists existing profile names within OSA distance 1 of the
	// chosen name. They are surfaced for review only; the engine never merges
	// into a fuzzily-matched profile on its own.
	SimilarNames []string

	// Propagated lists speakers in other files that were auto-relabeled
	// because they match this one with high confidence.
	Propagated []store.Speaker
}

// ApplyManualName handles a user naming a speaker: the name is recorded as
// verified, the speaker is folded into the matching profile (created on
// first use), and the verified name propagates to high-confidence matched
// speakers that still carry raw or auto-applied labels.
func (e *Engine) ApplyManualName(ctx context.Context, speakerID uuid.UUID, name string) (NameResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return NameResult{}, errors.New("speaker: name must not be empty")
	}

	sp, err := e.speakers.Rename(ctx, speakerID, name, true)
	if err != nil {
		return NameResult{}, fmt.Errorf("speaker: rename: %w", err)
	}

	res := NameResult{Speaker: sp}
	res.Profile, res.SimilarNames, err = e.ensureProfile(ctx, sp)
	if err != nil {
		return res, err
	}

	res.Propagated, err = e.propagateName(ctx, sp, res.Profile.ID)
	return res, err
}

// ensureProfile finds or creates the profile for the speaker's verified name
// and folds the speaker's embedding in. Returns nearby profile names found
// by fuzzy comparison when a new profile had to be created.
func (e *Engine) ensureProfile(ctx context.Context, sp store.Speaker) (store.SpeakerProfile, []string, error) {
	p, err := e.profiles.GetByName(ctx, sp.UserID, sp.Name)
	switch {
	case err == nil:
		if err := e.linkAndConsolidateFromIndex(ctx, sp, p.ID); err != nil {
			return p, nil, err
		}
		return p, nil, nil
	case !errors.Is(err, store.ErrNotFound):
		return store.SpeakerProfile{}, nil, fmt.Errorf("speaker: find profile: %w", err)
	}

	similar, err := e.similarProfileNames(ctx, sp.UserID, sp.Name)
	if err != nil {
		return store.SpeakerProfile{}, nil, err
	}

	p, err = e.profiles.Create(ctx, store.SpeakerProfile{
		ID:     uuid.New(),
		UserID: sp.UserID,
		Name:   sp.Name,
	})
	if err != nil {
		return store.SpeakerProfile{}, similar, fmt.Errorf("speaker: create profile: %w", err)
	}
	if err := e.linkAndConsolidateFromIndex(ctx, sp, p.ID); err != nil {
		return p, similar, err
	}
	return p, similar, nil
}

// similarProfileNames returns existing profile names within OSA distance
// fuzzyNameMaxOSADist of name, excluding exact matches.
func (e *Engine) similarProfileNames(ctx context.Context, userID uuid.UUID, name string) ([]string, error) {
	existing, err := e.profiles.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("speaker: list profiles: %w", err)
	}

	lower := strings.ToLower(name)
	var similar []string
	for _, p := range existing {
		other := strings.ToLower(p.Name)
		if other == lower {
			continue
		}
		if matchr.OSA(lower, other) <= fuzzyNameMaxOSADist {
			similar = append(similar, p.Name)
		}
	}
	return similar, nil
}

// propagateName re-queries the index with the renamed speaker's embedding
// against every other speaker of the user, not just previously recorded
// matches, so speakers indexed before this one gain the name too. High-band
// neighbors are relabeled and folded into the same profile, medium-band ones
// get a suggestion row refreshed. Verified counterparts carrying a different
// name are never touched.
func (e *Engine) propagateName(ctx context.Context, sp store.Speaker, profileID uuid.UUID) ([]store.Speaker, error) {
	autoLabel, err := e.autoLabelingEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !autoLabel {
		return nil, nil
	}

	emb, err := e.index.Get(ctx, sp.ID, vector.OwnerSpeaker)
	if err != nil {
		return nil, fmt.Errorf("speaker: load embedding: %w", err)
	}
	if emb == nil {
		return nil, nil
	}

	n, err := e.index.Count(ctx, sp.UserID, vector.OwnerSpeaker)
	if err != nil {
		return nil, fmt.Errorf("speaker: count embeddings: %w", err)
	}
	if n <= 1 {
		return nil, nil
	}

	neighbors, err := e.index.KNN(ctx, sp.UserID, vector.OwnerSpeaker, emb, n-1, []uuid.UUID{sp.ID})
	if err != nil {
		return nil, fmt.Errorf("speaker: knn: %w", err)
	}

	var propagated []store.Speaker
	for _, nb := range neighbors {
		if nb.Similarity < e.cfg.MediumConfidence {
			break
		}
		other, err := e.speakers.Get(ctx, nb.OwnerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return propagated, fmt.Errorf("speaker: load matched speaker: %w", err)
		}
		if Verified(other) && other.Name != sp.Name {
			continue
		}
		if _, err := e.matches.Upsert(ctx, sp.ID, other.ID, nb.Similarity); err != nil {
			return propagated, fmt.Errorf("speaker: record match: %w", err)
		}
		e.recordMatch(ctx, nb.Similarity)

		if nb.Similarity < e.cfg.HighConfidence || other.Name == sp.Name {
			continue
		}
		renamed, err := e.speakers.Rename(ctx, other.ID, sp.Name, true)
		if err != nil {
			return propagated, fmt.Errorf("speaker: propagate name: %w", err)
		}
		if err := e.linkAndConsolidateFromIndex(ctx, renamed, profileID); err != nil {
			return propagated, err
		}
		propagated = append(propagated, renamed)
	}
	return propagated, nil
}

// linkAndConsolidateFromIndex links a speaker into a profile using the
// speaker's stored embedding. A speaker with no embedding is still linked;
// the profile embedding just does not move.
func (e *Engine) linkAndConsolidateFromIndex(ctx context.Context, sp store.Speaker, profileID uuid.UUID) error {
	if sp.ProfileID != nil && *sp.ProfileID == profileID {
		return nil
	}
	emb, err := e.index.Get(ctx, sp.ID, vector.OwnerSpeaker)
	if err != nil {
		return fmt.Errorf("speaker: load embedding: %w", err)
	}
	if emb == nil {
		if err := e.speakers.LinkProfile(ctx, sp.ID, profileID); err != nil {
			return fmt.Errorf("speaker: link profile: %w", err)
		}
		return nil
	}
	return e.linkAndConsolidate(ctx, sp.ID, profileID, emb)
}

// linkAndConsolidate links a speaker into a profile and folds its embedding
// into the profile mean incrementally: combined = normalize(old*n + new).
func (e *Engine) linkAndConsolidate(ctx context.Context, speakerID, profileID uuid.UUID, emb []float32) error {
	if err := e.speakers.LinkProfile(ctx, speakerID, profileID); err != nil {
		return fmt.Errorf("speaker: link profile: %w", err)
	}

	p, err := e.profiles.Get(ctx, profileID)
	if err != nil {
		return fmt.Errorf("speaker: load profile: %w", err)
	}

	old, err := e.index.Get(ctx, profileID, vector.OwnerProfile)
	if err != nil {
		return fmt.Errorf("speaker: load profile embedding: %w", err)
	}

	var next []float32
	if old == nil || p.SpeakerCount == 0 {
		next = Normalize(emb)
	} else {
		normalized := Normalize(emb)
		combined := make([]float32, len(old))
		for i := range old {
			combined[i] = old[i]*float32(p.SpeakerCount) + normalized[i]
		}
		next = Normalize(combined)
	}

	if err := e.index.Upsert(ctx, profileID, vector.OwnerProfile, p.UserID, next); err != nil {
		return fmt.Errorf("speaker: store profile embedding: %w", err)
	}
	if err := e.profiles.SetSpeakerCount(ctx, profileID, p.SpeakerCount+1); err != nil {
		return fmt.Errorf("speaker: bump profile count: %w", err)
	}
	return nil
}

// ConsolidateProfile recomputes a profile's embedding from scratch as the
// normalized mean over all member speaker embeddings. Used after member
// removal or bulk re-embedding, where the incremental mean drifts.
func (e *Engine) ConsolidateProfile(ctx context.Context, profileID uuid.UUID) error {
	p, err := e.profiles.Get(ctx, profileID)
	if err != nil {
		return fmt.Errorf("speaker: load profile: %w", err)
	}

	members, err := e.speakers.ListForProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("speaker: list profile members: %w", err)
	}

	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	embs, err := e.index.MGet(ctx, ids, vector.OwnerSpeaker)
	if err != nil {
		return fmt.Errorf("speaker: load member embeddings: %w", err)
	}

	vectors := make([][]float32, 0, len(embs))
	for _, id := range ids {
		if v, ok := embs[id]; ok {
			vectors = append(vectors, v)
		}
	}

	if len(vectors) > 0 {
		mean := MeanNormalized(vectors)
		if err := e.index.Upsert(ctx, profileID, vector.OwnerProfile, p.UserID, mean); err != nil {
			return fmt.Errorf("speaker: store profile embedding: %w", err)
		}
	}
	if err := e.profiles.SetSpeakerCount(ctx, profileID, len(vectors)); err != nil {
		return fmt.Errorf("speaker: set profile count: %w", err)
	}
	return nil
}
