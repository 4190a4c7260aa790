package speaker

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/config"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/vector"
	voicemock "github.com/tobfr/verbatim/pkg/provider/voice/mock"
)

// ── fakes ──

type fakeSpeakers struct {
	byID map[uuid.UUID]store.Speaker
}

func newFakeSpeakers() *fakeSpeakers {
	return &fakeSpeakers{byID: map[uuid.UUID]store.Speaker{}}
}

func (f *fakeSpeakers) Create(_ context.Context, sp store.Speaker) (store.Speaker, error) {
	f.byID[sp.ID] = sp
	return sp, nil
}

func (f *fakeSpeakers) Get(_ context.Context, id uuid.UUID) (store.Speaker, error) {
	sp, ok := f.byID[id]
	if !ok {
		return store.Speaker{}, store.ErrNotFound
	}
	return sp, nil
}

func (f *fakeSpeakers) Rename(_ context.Context, id uuid.UUID, name string, verified bool) (store.Speaker, error) {
	sp, ok := f.byID[id]
	if !ok {
		return store.Speaker{}, store.ErrNotFound
	}
	sp.Name = name
	sp.Verified = verified
	f.byID[id] = sp
	return sp, nil
}

func (f *fakeSpeakers) LinkProfile(_ context.Context, id, profileID uuid.UUID) error {
	sp, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	sp.ProfileID = &profileID
	f.byID[id] = sp
	return nil
}

func (f *fakeSpeakers) ListForProfile(_ context.Context, profileID uuid.UUID) ([]store.Speaker, error) {
	var out []store.Speaker
	for _, sp := range f.byID {
		if sp.ProfileID != nil && *sp.ProfileID == profileID {
			out = append(out, sp)
		}
	}
	return out, nil
}

type fakeProfiles struct {
	byID map[uuid.UUID]store.SpeakerProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{byID: map[uuid.UUID]store.SpeakerProfile{}}
}

func (f *fakeProfiles) Create(_ context.Context, p store.SpeakerProfile) (store.SpeakerProfile, error) {
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeProfiles) Get(_ context.Context, id uuid.UUID) (store.SpeakerProfile, error) {
	p, ok := f.byID[id]
	if !ok {
		return store.SpeakerProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) GetByName(_ context.Context, userID uuid.UUID, name string) (store.SpeakerProfile, error) {
	for _, p := range f.byID {
		if p.UserID == userID && strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return store.SpeakerProfile{}, store.ErrNotFound
}

func (f *fakeProfiles) ListForUser(_ context.Context, userID uuid.UUID) ([]store.SpeakerProfile, error) {
	var out []store.SpeakerProfile
	for _, p := range f.byID {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProfiles) SetSpeakerCount(_ context.Context, id uuid.UUID, count int) error {
	p, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	p.SpeakerCount = count
	f.byID[id] = p
	return nil
}

type fakeMatches struct {
	byPair map[[2]uuid.UUID]store.SpeakerMatch
}

func newFakeMatches() *fakeMatches {
	return &fakeMatches{byPair: map[[2]uuid.UUID]store.SpeakerMatch{}}
}

func (f *fakeMatches) Upsert(_ context.Context, a, b uuid.UUID, confidence float64) (store.SpeakerMatch, error) {
	low, high := store.OrderPair(a, b)
	key := [2]uuid.UUID{low, high}
	m, ok := f.byPair[key]
	if !ok || confidence > m.Confidence {
		m = store.SpeakerMatch{SpeakerLow: low, SpeakerHigh: high, Confidence: confidence}
		f.byPair[key] = m
	}
	return m, nil
}

func (f *fakeMatches) ListForSpeaker(_ context.Context, speakerID uuid.UUID) ([]store.SpeakerMatch, error) {
	var out []store.SpeakerMatch
	for _, m := range f.byPair {
		if m.SpeakerLow == speakerID || m.SpeakerHigh == speakerID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeSegments struct {
	assigned map[string]uuid.UUID
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{assigned: map[string]uuid.UUID{}}
}

func (f *fakeSegments) AssignSpeaker(_ context.Context, fileID uuid.UUID, label string, speakerID uuid.UUID) (int64, error) {
	f.assigned[fileID.String()+"/"+label] = speakerID
	return 1, nil
}

type fakeSettings struct {
	autoLabel bool
}

func (f fakeSettings) GetBool(_ context.Context, key string, def bool) (bool, error) {
	if key == store.SettingAutoSpeakerLabeling {
		return f.autoLabel, nil
	}
	return def, nil
}

type indexEntry struct {
	userID    uuid.UUID
	embedding []float32
}

// fakeIndex is a brute-force in-memory stand-in for vector.Index.
type fakeIndex struct {
	entries  map[vector.OwnerType]map[uuid.UUID]indexEntry
	knnCalls int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: map[vector.OwnerType]map[uuid.UUID]indexEntry{
		vector.OwnerSpeaker: {},
		vector.OwnerProfile: {},
	}}
}

func (f *fakeIndex) Upsert(_ context.Context, ownerID uuid.UUID, ownerType vector.OwnerType, userID uuid.UUID, embedding []float32) error {
	f.entries[ownerType][ownerID] = indexEntry{userID: userID, embedding: embedding}
	return nil
}

func (f *fakeIndex) Get(_ context.Context, ownerID uuid.UUID, ownerType vector.OwnerType) ([]float32, error) {
	e, ok := f.entries[ownerType][ownerID]
	if !ok {
		return nil, nil
	}
	return e.embedding, nil
}

func (f *fakeIndex) MGet(_ context.Context, ownerIDs []uuid.UUID, ownerType vector.OwnerType) (map[uuid.UUID][]float32, error) {
	out := map[uuid.UUID][]float32{}
	for _, id := range ownerIDs {
		if e, ok := f.entries[ownerType][id]; ok {
			out[id] = e.embedding
		}
	}
	return out, nil
}

func (f *fakeIndex) KNN(_ context.Context, userID uuid.UUID, ownerType vector.OwnerType, embedding []float32, topK int, exclude []uuid.UUID) ([]vector.Neighbor, error) {
	f.knnCalls++
	skip := map[uuid.UUID]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	var out []vector.Neighbor
	for id, e := range f.entries[ownerType] {
		if e.userID != userID || skip[id] {
			continue
		}
		out = append(out, vector.Neighbor{OwnerID: id, Similarity: Cosine(embedding, e.embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeIndex) Count(_ context.Context, userID uuid.UUID, ownerType vector.OwnerType) (int, error) {
	n := 0
	for _, e := range f.entries[ownerType] {
		if e.userID == userID {
			n++
		}
	}
	return n, nil
}

// ── harness ──

type harness struct {
	speakers *fakeSpeakers
	profiles *fakeProfiles
	matches  *fakeMatches
	segments *fakeSegments
	index    *fakeIndex
	embed    *voicemock.Provider
	engine   *Engine
}

func newHarness(t *testing.T, autoLabel bool) *harness {
	t.Helper()
	h := &harness{
		speakers: newFakeSpeakers(),
		profiles: newFakeProfiles(),
		matches:  newFakeMatches(),
		segments: newFakeSegments(),
		index:    newFakeIndex(),
		embed:    &voicemock.Provider{Dim: 3},
	}
	h.engine = New(
		h.speakers, h.profiles, h.matches, h.segments,
		fakeSettings{autoLabel: autoLabel}, h.index, h.embed,
		config.SpeakerConfig{HighConfidence: 0.75, MediumConfidence: 0.50},
		nil, nil,
	)
	return h
}

func openSilence(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio")), nil
}

func (h *harness) seedSpeaker(userID uuid.UUID, name string, verified bool, embedding []float32) store.Speaker {
	sp := store.Speaker{ID: uuid.New(), UserID: userID, FileID: uuid.New(), Name: name, Verified: verified}
	h.speakers.byID[sp.ID] = sp
	if embedding != nil {
		h.index.entries[vector.OwnerSpeaker][sp.ID] = indexEntry{userID: userID, embedding: embedding}
	}
	return sp
}

func segmentsOneLabel(label string) []store.TranscriptSegment {
	return []store.TranscriptSegment{
		{Index: 0, StartSec: 0, EndSec: 2, DiarizationLabel: label},
		{Index: 1, StartSec: 2, EndSec: 2.3, DiarizationLabel: label}, // too short, ignored
	}
}

// ── tests ──

func TestProcessFile_FirstFileSkipsMatching(t *testing.T) {
	h := newHarness(t, true)
	h.embed.Embedding = []float32{1, 0, 0}

	file := store.MediaFile{ID: uuid.New(), UserID: uuid.New()}
	created, err := h.engine.ProcessFile(context.Background(), file, segmentsOneLabel("SPEAKER_00"), openSilence)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d speakers, want 1", len(created))
	}
	if created[0].Name != "SPEAKER_00" {
		t.Errorf("name = %q, want raw label", created[0].Name)
	}

	// The only indexed embeddings belong to this file, so the pre-probe must
	// prevent any kNN.
	if h.index.knnCalls != 0 {
		t.Errorf("knn calls = %d, want 0 on an otherwise empty index", h.index.knnCalls)
	}
	if _, ok := h.index.entries[vector.OwnerSpeaker][created[0].ID]; !ok {
		t.Error("speaker embedding was not indexed")
	}
	if got := h.segments.assigned[file.ID.String()+"/SPEAKER_00"]; got != created[0].ID {
		t.Errorf("segments assigned to %s, want %s", got, created[0].ID)
	}
}

func TestProcessFile_HighMatchAppliesVerifiedName(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	alice := h.seedSpeaker(userID, "Alice", true, []float32{1, 0, 0})

	h.embed.Embedding = []float32{0.95, 0.05, 0}
	file := store.MediaFile{ID: uuid.New(), UserID: userID}
	created, err := h.engine.ProcessFile(context.Background(), file, segmentsOneLabel("SPEAKER_00"), openSilence)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	got := h.speakers.byID[created[0].ID]
	if got.Name != "Alice" {
		t.Errorf("name = %q, want auto-applied %q", got.Name, "Alice")
	}
	if !got.Verified {
		t.Error("auto-applied name not marked verified; it must chain to later matches")
	}

	low, high := store.OrderPair(created[0].ID, alice.ID)
	m, ok := h.matches.byPair[[2]uuid.UUID{low, high}]
	if !ok {
		t.Fatal("high-band match was not recorded")
	}
	if m.Confidence < 0.75 {
		t.Errorf("recorded confidence = %v, want high band", m.Confidence)
	}
}

func TestProcessFile_MediumMatchIsSuggestionOnly(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	bob := h.seedSpeaker(userID, "Bob", true, []float32{1, 0, 0})

	// cos((0.6,0.8,0), (1,0,0)) = 0.6: inside the medium band.
	h.embed.Embedding = []float32{0.6, 0.8, 0}
	file := store.MediaFile{ID: uuid.New(), UserID: userID}
	created, err := h.engine.ProcessFile(context.Background(), file, segmentsOneLabel("SPEAKER_00"), openSilence)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	got := h.speakers.byID[created[0].ID]
	if got.Name != "SPEAKER_00" {
		t.Errorf("medium match renamed the speaker to %q", got.Name)
	}

	low, high := store.OrderPair(created[0].ID, bob.ID)
	if _, ok := h.matches.byPair[[2]uuid.UUID{low, high}]; !ok {
		t.Error("medium-band match was not recorded as a suggestion")
	}

	sugg, err := h.engine.Suggestions(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(sugg) != 1 || sugg[0].MatchedName != "Bob" {
		t.Errorf("suggestions = %+v, want one naming Bob", sugg)
	}
}

func TestProcessFile_AutoLabelingDisabled(t *testing.T) {
	h := newHarness(t, false)
	userID := uuid.New()
	alice := h.seedSpeaker(userID, "Alice", true, []float32{1, 0, 0})

	h.embed.Embedding = []float32{0.95, 0.05, 0}
	file := store.MediaFile{ID: uuid.New(), UserID: userID}
	created, err := h.engine.ProcessFile(context.Background(), file, segmentsOneLabel("SPEAKER_00"), openSilence)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	if got := h.speakers.byID[created[0].ID]; got.Name != "SPEAKER_00" {
		t.Errorf("name = %q, want untouched raw label with auto-labeling off", got.Name)
	}
	low, high := store.OrderPair(created[0].ID, alice.ID)
	if _, ok := h.matches.byPair[[2]uuid.UUID{low, high}]; !ok {
		t.Error("match must still be recorded with auto-labeling off")
	}
}

func TestProcessFile_DoesNotApplyUnverifiedNames(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	// Counterpart still carries a raw diarization label: nothing to apply.
	h.seedSpeaker(userID, "SPEAKER_03", false, []float32{1, 0, 0})

	h.embed.Embedding = []float32{0.95, 0.05, 0}
	file := store.MediaFile{ID: uuid.New(), UserID: userID}
	created, err := h.engine.ProcessFile(context.Background(), file, segmentsOneLabel("SPEAKER_00"), openSilence)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	if got := h.speakers.byID[created[0].ID]; got.Name != "SPEAKER_00" {
		t.Errorf("name = %q, raw labels must never propagate", got.Name)
	}
}

func TestProcessFile_UserScoping(t *testing.T) {
	h := newHarness(t, true)
	// A perfect-similarity speaker belonging to someone else.
	h.seedSpeaker(uuid.New(), "Alice", true, []float32{1, 0, 0})

	h.embed.Embedding = []float32{1, 0, 0}
	file := store.MediaFile{ID: uuid.New(), UserID: uuid.New()}
	created, err := h.engine.ProcessFile(context.Background(), file, segmentsOneLabel("SPEAKER_00"), openSilence)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	if got := h.speakers.byID[created[0].ID]; got.Name != "SPEAKER_00" {
		t.Errorf("name = %q, matching crossed a user boundary", got.Name)
	}
	if len(h.matches.byPair) != 0 {
		t.Errorf("matches = %v, want none across users", h.matches.byPair)
	}
}

// ── manual naming and profiles ──

func TestApplyManualName_CreatesAndReusesProfileCaseInsensitive(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	sp1 := h.seedSpeaker(userID, "SPEAKER_00", false, []float32{1, 0, 0})
	// Orthogonal on purpose: the rename must not propagate between the two.
	sp2 := h.seedSpeaker(userID, "SPEAKER_00", false, []float32{0, 1, 0})

	res1, err := h.engine.ApplyManualName(context.Background(), sp1.ID, "Alice")
	if err != nil {
		t.Fatalf("first ApplyManualName: %v", err)
	}
	if res1.Profile.Name != "Alice" {
		t.Errorf("profile name = %q, want Alice", res1.Profile.Name)
	}
	if len(res1.SimilarNames) != 0 {
		t.Errorf("similar names = %v, want none", res1.SimilarNames)
	}
	if h.profiles.byID[res1.Profile.ID].SpeakerCount != 1 {
		t.Errorf("speaker count = %d, want 1", h.profiles.byID[res1.Profile.ID].SpeakerCount)
	}

	res2, err := h.engine.ApplyManualName(context.Background(), sp2.ID, "alice")
	if err != nil {
		t.Fatalf("second ApplyManualName: %v", err)
	}
	if res2.Profile.ID != res1.Profile.ID {
		t.Error("case-insensitive name did not reuse the existing profile")
	}
	if h.profiles.byID[res1.Profile.ID].SpeakerCount != 2 {
		t.Errorf("speaker count = %d, want 2 after folding in", h.profiles.byID[res1.Profile.ID].SpeakerCount)
	}
	if _, ok := h.index.entries[vector.OwnerProfile][res1.Profile.ID]; !ok {
		t.Error("profile embedding missing after consolidation")
	}
}

func TestApplyManualName_FuzzyNameIsSuggestedNotMerged(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	first := h.seedSpeaker(userID, "SPEAKER_00", false, []float32{1, 0, 0})
	second := h.seedSpeaker(userID, "SPEAKER_00", false, []float32{0, 1, 0})

	if _, err := h.engine.ApplyManualName(context.Background(), first.ID, "John"); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	res, err := h.engine.ApplyManualName(context.Background(), second.ID, "Jon")
	if err != nil {
		t.Fatalf("ApplyManualName: %v", err)
	}
	if len(res.SimilarNames) != 1 || res.SimilarNames[0] != "John" {
		t.Errorf("similar names = %v, want [John]", res.SimilarNames)
	}
	if res.Profile.Name != "Jon" {
		t.Errorf("profile name = %q: a fuzzy hit must not merge", res.Profile.Name)
	}
	if len(h.profiles.byID) != 2 {
		t.Errorf("profiles = %d, want 2 distinct", len(h.profiles.byID))
	}
}

func TestApplyManualName_PropagatesToHighMatches(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	named := h.seedSpeaker(userID, "SPEAKER_00", false, []float32{1, 0, 0})
	// No prior match rows: propagation must find this one by re-probing the
	// index, not by replaying recorded matches.
	raw := h.seedSpeaker(userID, "SPEAKER_01", false, []float32{0.95, 0.05, 0})
	carol := h.seedSpeaker(userID, "Carol", true, []float32{0.9, 0.1, 0})

	res, err := h.engine.ApplyManualName(context.Background(), named.ID, "Alice")
	if err != nil {
		t.Fatalf("ApplyManualName: %v", err)
	}

	if len(res.Propagated) != 1 || res.Propagated[0].ID != raw.ID {
		t.Fatalf("propagated = %+v, want only the raw-labeled speaker", res.Propagated)
	}
	got := h.speakers.byID[raw.ID]
	if got.Name != "Alice" || !got.Verified {
		t.Errorf("propagated speaker = %+v, want verified Alice", got)
	}
	if h.speakers.byID[carol.ID].Name != "Carol" {
		t.Error("propagation overwrote a verified name")
	}
	if got.ProfileID == nil || *got.ProfileID != res.Profile.ID {
		t.Error("propagated speaker not folded into the profile")
	}

	low, high := store.OrderPair(named.ID, raw.ID)
	if _, ok := h.matches.byPair[[2]uuid.UUID{low, high}]; !ok {
		t.Error("refreshed high-band match was not recorded")
	}
}

func TestApplyManualName_MediumMatchBecomesSuggestion(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	named := h.seedSpeaker(userID, "SPEAKER_00", false, []float32{1, 0, 0})
	// cos = 0.6: medium band, suggestion only.
	medium := h.seedSpeaker(userID, "SPEAKER_01", false, []float32{0.6, 0.8, 0})

	if _, err := h.engine.ApplyManualName(context.Background(), named.ID, "Alice"); err != nil {
		t.Fatalf("ApplyManualName: %v", err)
	}

	if got := h.speakers.byID[medium.ID]; got.Name != "SPEAKER_01" {
		t.Errorf("medium match renamed the speaker to %q", got.Name)
	}
	sugg, err := h.engine.Suggestions(context.Background(), medium.ID)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(sugg) != 1 || sugg[0].MatchedName != "Alice" {
		t.Errorf("suggestions = %+v, want one naming Alice", sugg)
	}
}

func TestConsolidateProfile_FullRecompute(t *testing.T) {
	h := newHarness(t, true)
	userID := uuid.New()
	sp1 := h.seedSpeaker(userID, "Alice", false, []float32{1, 0, 0})
	sp2 := h.seedSpeaker(userID, "Alice", false, []float32{0, 1, 0})

	profileID := uuid.New()
	h.profiles.byID[profileID] = store.SpeakerProfile{ID: profileID, UserID: userID, Name: "Alice"}
	_ = h.speakers.LinkProfile(context.Background(), sp1.ID, profileID)
	_ = h.speakers.LinkProfile(context.Background(), sp2.ID, profileID)

	if err := h.engine.ConsolidateProfile(context.Background(), profileID); err != nil {
		t.Fatalf("ConsolidateProfile: %v", err)
	}

	emb, ok := h.index.entries[vector.OwnerProfile][profileID]
	if !ok {
		t.Fatal("profile embedding missing")
	}
	if c := Cosine(emb.embedding, []float32{1, 1, 0}); c < 0.999 {
		t.Errorf("profile embedding off the members' mean direction: cos = %v", c)
	}
	if h.profiles.byID[profileID].SpeakerCount != 2 {
		t.Errorf("speaker count = %d, want 2", h.profiles.byID[profileID].SpeakerCount)
	}
}
