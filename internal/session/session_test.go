package session

import (
	"context"
	"errors"
	"testing"

	"github.com/relmark/relmark/pkg/annot"
	"github.com/relmark/relmark/pkg/gateway"
	"github.com/relmark/relmark/pkg/schema"
	"github.com/relmark/relmark/pkg/token"
)

type fakeText struct {
	id   string
	text string
}

// fakeBackend implements gateway.Client over an in-memory corpus.
type fakeBackend struct {
	texts []fakeText
	saved map[string]gateway.SavedAnnotation

	classes   map[string]schema.Class
	relations map[string]schema.Relation

	classesCalls int
	refreshCalls int
	saveCalls    int

	annotationErr error
	suggestErr    error
	suggestResult gateway.SuggestResult

	onAnnotation func()
}

func newBackend(texts ...fakeText) *fakeBackend {
	return &fakeBackend{
		texts: texts,
		saved: map[string]gateway.SavedAnnotation{},
		classes: map[string]schema.Class{
			"Person": {Description: "A person."},
			"Org":    {Description: "An organization."},
		},
		relations: map[string]schema.Relation{
			"WorksFor": {
				Subject: []string{"Person"},
				Object:  []string{"Org"},
				Attributes: map[string]schema.AttrSpec{
					"edge_predicate": {
						Kind:     schema.AttrEnum,
						Enum:     []string{"works_for", "consults_for"},
						Nullable: false,
						Role:     schema.RolePredicate,
					},
				},
			},
		},
	}
}

func (f *fakeBackend) Classes(ctx context.Context) (map[string]schema.Class, error) {
	f.classesCalls++
	return f.classes, nil
}

func (f *fakeBackend) Relations(ctx context.Context) (map[string]schema.Relation, error) {
	return f.relations, nil
}

func (f *fakeBackend) RefreshRelations(ctx context.Context) error {
	f.refreshCalls++
	return nil
}

func (f *fakeBackend) Enums(ctx context.Context) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (f *fakeBackend) CreateEnum(ctx context.Context, name string, values []string) error {
	return nil
}

func (f *fakeBackend) FieldDescriptions(ctx context.Context) (map[string]map[string]string, error) {
	return map[string]map[string]string{}, nil
}

func (f *fakeBackend) NextText(ctx context.Context, cursor int) (gateway.TextPage, error) {
	if cursor < 0 || cursor >= len(f.texts) {
		return gateway.TextPage{}, gateway.ErrNoMoreTexts
	}
	t := f.texts[cursor]
	return gateway.TextPage{ID: t.id, Text: t.text, Cursor: cursor, Total: len(f.texts)}, nil
}

func (f *fakeBackend) PrevText(ctx context.Context, cursor int) (gateway.TextPage, error) {
	if len(f.texts) == 0 {
		return gateway.TextPage{}, gateway.ErrNoMoreTexts
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(f.texts) {
		cursor = len(f.texts) - 1
	}
	t := f.texts[cursor]
	return gateway.TextPage{ID: t.id, Text: t.text, Cursor: cursor, Total: len(f.texts)}, nil
}

func (f *fakeBackend) Annotation(ctx context.Context, textID string) (gateway.SavedAnnotation, error) {
	if f.onAnnotation != nil {
		f.onAnnotation()
	}
	if f.annotationErr != nil {
		return gateway.SavedAnnotation{}, f.annotationErr
	}
	saved, ok := f.saved[textID]
	if !ok {
		return gateway.SavedAnnotation{}, gateway.ErrNotFound
	}
	return saved, nil
}

func (f *fakeBackend) AnnotationExists(ctx context.Context, textID string) (bool, error) {
	_, ok := f.saved[textID]
	return ok, nil
}

func (f *fakeBackend) SaveAnnotation(ctx context.Context, payload gateway.SavePayload, overwrite bool) (gateway.SaveReceipt, error) {
	f.saveCalls++
	_, existed := f.saved[payload.TextID]
	if existed && !overwrite {
		return gateway.SaveReceipt{}, gateway.ErrConflict
	}
	f.saved[payload.TextID] = gateway.SavedAnnotation{
		TextID:    payload.TextID,
		Entities:  payload.Entities,
		Relations: payload.Relations,
	}
	return gateway.SaveReceipt{OK: true, Overwritten: existed}, nil
}

func (f *fakeBackend) ProposeClass(ctx context.Context, proposal gateway.ProposedClass) error {
	return nil
}

func (f *fakeBackend) ProposeRelation(ctx context.Context, proposal gateway.ProposedRelation) error {
	return nil
}

func (f *fakeBackend) SemanticStatus(ctx context.Context, kind string) (gateway.SemanticStatus, error) {
	return gateway.SemanticStatus{Ready: f.suggestErr == nil}, nil
}

func (f *fakeBackend) Suggest(ctx context.Context, query gateway.SuggestQuery) (gateway.SuggestResult, error) {
	if f.suggestErr != nil {
		return gateway.SuggestResult{}, f.suggestErr
	}
	return f.suggestResult, nil
}

type confirmFunc func(prompt string) bool

func (f confirmFunc) Confirm(prompt string) bool { return f(prompt) }

type scriptedConfirm struct {
	answer  bool
	prompts []string
}

func (c *scriptedConfirm) Confirm(prompt string) bool {
	c.prompts = append(c.prompts, prompt)
	return c.answer
}

const (
	aliceText = "Alice works at Acme."
	bobText   = "Bob met Carol."
)

func savedAliceAcme() gateway.SavedAnnotation {
	return gateway.SavedAnnotation{
		TextID: "doc-1",
		Entities: []gateway.Entity{
			{ID: "T1", Class: "Person", Label: "Alice", Span: gateway.Span{Start: 0, End: 5}, Attributes: map[string]any{"confidence": 0.9}},
			{ID: "T2", Class: "Org", Label: "Acme", Span: gateway.Span{Start: 15, End: 19}, Attributes: map[string]any{}},
		},
		Relations: []gateway.Relation{
			{ID: "R1", Predicate: "WorksFor", Subject: "T1", Object: "T2", Attributes: map[string]any{"edge_predicate": "works_for"}},
		},
	}
}

func startedSession(t *testing.T, backend *fakeBackend, confirm Confirmer) *Session {
	t.Helper()
	s := NewSession(NewSessionParams{
		Client:  backend,
		Schemas: schema.NewStore(schema.NewStoreParams{Source: backend}),
		Confirm: confirm,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func TestSession_StartLoadsFirstText(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	s := startedSession(t, backend, nil)

	if s.State() != StateClean {
		t.Errorf("state = %v, want clean", s.State())
	}
	if s.Document().TextID() != "doc-1" {
		t.Errorf("loaded %q, want doc-1", s.Document().TextID())
	}
	if s.Dirty() {
		t.Error("fresh load should not be dirty")
	}
	if exists, _ := s.Saved(); exists {
		t.Error("doc-1 has no saved annotations")
	}
	if got := s.Progress(); got != "text 1/2 (doc-1)" {
		t.Errorf("Progress() = %q", got)
	}
}

func TestSession_StartOnEmptyCorpus(t *testing.T) {
	backend := newBackend()
	s := NewSession(NewSessionParams{
		Client:  backend,
		Schemas: schema.NewStore(schema.NewStoreParams{Source: backend}),
	})

	err := s.Start(context.Background())
	if !errors.Is(err, gateway.ErrNoMoreTexts) {
		t.Fatalf("expected ErrNoMoreTexts, got %v", err)
	}
	if s.Document() != nil {
		t.Error("no document should be loaded")
	}
}

func TestSession_StartHydratesSavedAnnotations(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText})
	backend.saved["doc-1"] = savedAliceAcme()
	s := startedSession(t, backend, nil)

	doc := s.Document()
	if got := len(doc.Entities()); got != 2 {
		t.Fatalf("hydrated %d entities, want 2", got)
	}
	if got := len(doc.Relations()); got != 1 {
		t.Fatalf("hydrated %d relations, want 1", got)
	}

	alice, ok := doc.Entity("T1")
	if !ok {
		t.Fatal("missing hydrated entity T1")
	}
	if alice.TokenRange != (token.Range{First: 0, Last: 0}) {
		t.Errorf("T1 token range = %+v, want {0 0}", alice.TokenRange)
	}
	if alice.Attrs["confidence"] != "0.9" {
		t.Errorf("confidence = %q, want %q", alice.Attrs["confidence"], "0.9")
	}

	if s.Dirty() {
		t.Error("hydration must not mark the session dirty")
	}
	exists, wasEmpty := s.Saved()
	if !exists || wasEmpty {
		t.Errorf("Saved() = (%v, %v), want (true, false)", exists, wasEmpty)
	}
	if report := doc.Validate(); !report.OK() {
		t.Errorf("hydrated annotations should validate, got %+v", report.Problems)
	}

	// counters continue past the hydrated ids
	e, err := doc.CreateEntity("Person", "fresh", token.Span{Start: 6, End: 11}, nil)
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if e.ID != "T3" {
		t.Errorf("next entity id = %s, want T3", e.ID)
	}
}

func TestSession_SaveAndNext_WritesAndAdvances(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	s := startedSession(t, backend, nil)

	if _, err := s.Document().CreateEntity("Person", "Alice", token.Span{Start: 0, End: 5}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if s.State() != StateEditing {
		t.Errorf("state after edit = %v, want editing", s.State())
	}

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if result.Outcome != OutcomeSaved {
		t.Errorf("outcome = %v, want saved", result.Outcome)
	}
	if backend.saveCalls != 1 {
		t.Errorf("save calls = %d, want 1", backend.saveCalls)
	}

	stored := backend.saved["doc-1"]
	if stored.TextID != "doc-1" || len(stored.Entities) != 1 {
		t.Fatalf("backend stored %+v", stored)
	}
	if stored.Entities[0].Span != (gateway.Span{Start: 0, End: 5}) {
		t.Errorf("stored span = %+v, want {0 5}", stored.Entities[0].Span)
	}

	if s.Cursor() != 1 || s.Document().TextID() != "doc-2" {
		t.Errorf("session at %d (%s), want cursor 1 doc-2", s.Cursor(), s.Document().TextID())
	}
	if s.State() != StateClean {
		t.Errorf("state after advance = %v, want clean", s.State())
	}
}

func TestSession_SaveAndNext_SkipsCleanSaved(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	backend.saved["doc-1"] = savedAliceAcme()
	s := startedSession(t, backend, nil)

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %v, want skipped", result.Outcome)
	}
	if backend.saveCalls != 0 {
		t.Errorf("skip must not write, got %d save calls", backend.saveCalls)
	}
	if s.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", s.Cursor())
	}
}

func TestSession_SaveAndNext_InvalidStaysPut(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	s := startedSession(t, backend, nil)

	doc := s.Document()
	alice, err := doc.CreateEntity("Person", "Alice", token.Span{Start: 0, End: 5}, nil)
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if _, err := doc.CreateRelation(alice.ID); err != nil {
		t.Fatalf("CreateRelation failed: %v", err)
	}

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if result.Outcome != OutcomeInvalid {
		t.Fatalf("outcome = %v, want invalid", result.Outcome)
	}
	if len(result.Report.Problems) != 1 || result.Report.Problems[0].Reason != annot.ReasonIncomplete {
		t.Errorf("report = %+v, want one incomplete problem", result.Report.Problems)
	}
	if backend.saveCalls != 0 {
		t.Errorf("invalid save must not write, got %d calls", backend.saveCalls)
	}
	if s.Cursor() != 0 || s.State() != StateEditing {
		t.Errorf("session moved to cursor %d state %v, want 0 editing", s.Cursor(), s.State())
	}
}

func TestSession_SaveAndNext_OverwriteConfirmed(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	backend.saved["doc-1"] = savedAliceAcme()
	confirm := &scriptedConfirm{answer: true}
	s := startedSession(t, backend, confirm)

	if _, err := s.Document().CreateEntity("Person", "works", token.Span{Start: 6, End: 11}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if result.Outcome != OutcomeOverwritten {
		t.Errorf("outcome = %v, want overwritten", result.Outcome)
	}
	if len(confirm.prompts) != 1 {
		t.Fatalf("confirm prompts = %v, want exactly one", confirm.prompts)
	}
	if got := len(backend.saved["doc-1"].Entities); got != 3 {
		t.Errorf("backend now holds %d entities, want 3", got)
	}
}

func TestSession_SaveAndNext_OverwriteDeclined(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	backend.saved["doc-1"] = savedAliceAcme()
	confirm := &scriptedConfirm{answer: false}
	s := startedSession(t, backend, confirm)

	if _, err := s.Document().CreateEntity("Person", "works", token.Span{Start: 6, End: 11}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if result.Outcome != OutcomeDeclined {
		t.Errorf("outcome = %v, want declined", result.Outcome)
	}
	if backend.saveCalls != 0 {
		t.Errorf("declined overwrite must not write, got %d calls", backend.saveCalls)
	}
	if got := len(backend.saved["doc-1"].Entities); got != 2 {
		t.Errorf("backend copy changed to %d entities, want untouched 2", got)
	}
	if s.Cursor() != 0 || !s.Dirty() {
		t.Errorf("session must stay on the dirty document, cursor %d dirty %v", s.Cursor(), s.Dirty())
	}
}

func TestSession_SaveAndNext_AtCorpusEnd(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText})
	s := startedSession(t, backend, nil)

	if _, err := s.Document().CreateEntity("Person", "Alice", token.Span{Start: 0, End: 5}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if result.Outcome != OutcomeSaved || !result.AtEnd {
		t.Errorf("result = %+v, want saved at end", result)
	}
	if s.Document().TextID() != "doc-1" || s.Dirty() {
		t.Errorf("current document should stay loaded and clean")
	}
	if s.State() != StateClean {
		t.Errorf("state = %v, want clean", s.State())
	}
}

func TestSession_Prev_AtStart(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText})
	s := startedSession(t, backend, nil)

	moved, err := s.Prev(context.Background())
	if !errors.Is(err, ErrAtStart) {
		t.Fatalf("expected ErrAtStart, got %v", err)
	}
	if moved {
		t.Error("Prev at cursor 0 must not move")
	}
}

func TestSession_Prev_DirtyDeclined(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	confirm := &scriptedConfirm{answer: false}
	s := startedSession(t, backend, confirm)

	if _, err := s.SaveAndNext(context.Background()); err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if _, err := s.Document().CreateEntity("Person", "Bob", token.Span{Start: 0, End: 3}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	moved, err := s.Prev(context.Background())
	if err != nil {
		t.Fatalf("Prev failed: %v", err)
	}
	if moved {
		t.Error("declined discard must keep the current document")
	}
	if len(confirm.prompts) != 1 {
		t.Errorf("confirm prompts = %v, want the discard prompt", confirm.prompts)
	}
	if s.Cursor() != 1 || len(s.Document().Entities()) != 1 {
		t.Errorf("session at cursor %d with %d entities, want 1 and 1", s.Cursor(), len(s.Document().Entities()))
	}
}

func TestSession_Prev_DirtyConfirmed(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	confirm := &scriptedConfirm{answer: true}
	s := startedSession(t, backend, confirm)

	if _, err := s.SaveAndNext(context.Background()); err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if _, err := s.Document().CreateEntity("Person", "Bob", token.Span{Start: 0, End: 3}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	moved, err := s.Prev(context.Background())
	if err != nil {
		t.Fatalf("Prev failed: %v", err)
	}
	if !moved {
		t.Fatal("confirmed discard should navigate")
	}
	if s.Cursor() != 0 || s.Document().TextID() != "doc-1" {
		t.Errorf("session at %d (%s), want cursor 0 doc-1", s.Cursor(), s.Document().TextID())
	}
	if s.Dirty() {
		t.Error("reloaded document must be clean")
	}
}

func TestSession_RejectsReentrantCalls(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	backend.saved["doc-1"] = savedAliceAcme()

	var s *Session
	var busyErr error
	s = NewSession(NewSessionParams{
		Client:  backend,
		Schemas: schema.NewStore(schema.NewStoreParams{Source: backend}),
		Confirm: confirmFunc(func(prompt string) bool {
			_, busyErr = s.Prev(context.Background())
			return true
		}),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := s.Document().CreateEntity("Person", "works", token.Span{Start: 6, End: 11}, nil); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	result, err := s.SaveAndNext(context.Background())
	if err != nil {
		t.Fatalf("SaveAndNext failed: %v", err)
	}
	if !errors.Is(busyErr, ErrBusy) {
		t.Errorf("re-entrant Prev returned %v, want ErrBusy", busyErr)
	}
	if result.Outcome != OutcomeOverwritten {
		t.Errorf("outcome = %v, want overwritten", result.Outcome)
	}
}

func TestSession_StaleLoadDiscarded(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText}, fakeText{"doc-2", bobText})
	s := NewSession(NewSessionParams{
		Client:  backend,
		Schemas: schema.NewStore(schema.NewStoreParams{Source: backend}),
	})
	if err := s.Schemas().Load(context.Background()); err != nil {
		t.Fatalf("schema load failed: %v", err)
	}

	// A newer load completes while the first one is waiting on its
	// annotation fetch; the first response must not clobber it.
	backend.onAnnotation = func() {
		backend.onAnnotation = nil
		if err := s.loadAt(context.Background(), 1, backend.NextText); err != nil {
			t.Errorf("inner load failed: %v", err)
		}
	}

	if err := s.loadAt(context.Background(), 0, backend.NextText); err != nil {
		t.Fatalf("outer load failed: %v", err)
	}

	if s.Document().TextID() != "doc-2" || s.Cursor() != 1 {
		t.Errorf("session at %s cursor %d, want doc-2 cursor 1", s.Document().TextID(), s.Cursor())
	}
}

func TestSession_RefreshRefetchesSchema(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText})
	s := startedSession(t, backend, nil)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if backend.refreshCalls != 1 {
		t.Errorf("backend refresh calls = %d, want 1", backend.refreshCalls)
	}
	if backend.classesCalls != 2 {
		t.Errorf("classes fetched %d times, want 2 (start + refresh)", backend.classesCalls)
	}
}

func TestSession_SuggestDegradesOnError(t *testing.T) {
	backend := newBackend(fakeText{"doc-1", aliceText})
	backend.suggestErr = errors.New("backend down")
	s := startedSession(t, backend, nil)

	result := s.Suggest(context.Background(), gateway.SuggestQuery{Query: "anything"})
	if result.Ready || len(result.Items) != 0 {
		t.Errorf("Suggest() = %+v, want empty not-ready result", result)
	}
}
