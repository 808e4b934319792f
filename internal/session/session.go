// Package session drives the load, edit, save, advance loop of one
// annotation run. It owns the current document slot: which text is
// loaded, its annotation model, and how far local edits have diverged
// from the backend copy.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/relmark/relmark/pkg/annot"
	"github.com/relmark/relmark/pkg/gateway"
	"github.com/relmark/relmark/pkg/logger"
	"github.com/relmark/relmark/pkg/schema"
	"github.com/relmark/relmark/pkg/token"
)

var (
	// ErrBusy rejects an operation while a network call for the current
	// document slot is outstanding.
	ErrBusy = errors.New("operation already in flight")

	// ErrAtStart marks backward navigation from the first text.
	ErrAtStart = errors.New("already at the first text")

	// ErrNoDocument marks operations that need a loaded document.
	ErrNoDocument = errors.New("no document loaded")
)

// State is the lifecycle phase of the current document slot.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateClean
	StateEditing
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateClean:
		return "clean"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	}
	return "unknown"
}

// Outcome says how a save-and-advance attempt resolved.
type Outcome int

const (
	// OutcomeSaved means a write went through to the backend.
	OutcomeSaved Outcome = iota
	// OutcomeOverwritten means the write replaced a non-empty backend copy.
	OutcomeOverwritten
	// OutcomeSkipped means the document was already saved and unedited,
	// so no write was issued.
	OutcomeSkipped
	// OutcomeInvalid means validation failed; the report carries the
	// problems and nothing was written.
	OutcomeInvalid
	// OutcomeDeclined means the user refused the overwrite confirmation.
	OutcomeDeclined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeOverwritten:
		return "overwritten"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeDeclined:
		return "declined"
	}
	return "unknown"
}

// SaveResult reports what a SaveAndNext call did.
type SaveResult struct {
	Outcome Outcome

	// Report carries the validation problems when Outcome is
	// OutcomeInvalid.
	Report annot.Report

	// AtEnd is set when the corpus has no text after the current one.
	AtEnd bool
}

// Confirmer asks the user to acknowledge a destructive step before it
// runs. Implementations block until the user answers.
type Confirmer interface {
	Confirm(prompt string) bool
}

// declineAll stands in when no Confirmer is injected; every destructive
// step is refused.
type declineAll struct{}

func (declineAll) Confirm(string) bool { return false }

// Session is the navigation controller. All methods must be called from
// a single goroutine; overlapping network operations on the document
// slot are rejected with ErrBusy.
type Session struct {
	client  gateway.Client
	schemas *schema.Store
	confirm Confirmer

	state    State
	inflight bool

	// gen counts load cycles; responses carrying a stale generation are
	// discarded instead of clobbering a newer document.
	gen uint64

	cursor int
	total  int
	doc    *annot.Document

	savedExists   bool
	savedWasEmpty bool
	baseline      uint64
}

// NewSessionParams contains the dependencies of a session.
type NewSessionParams struct {
	Client  gateway.Client
	Schemas *schema.Store

	// Confirm guards overwriting backend annotations and discarding
	// unsaved edits. When nil, every prompt is declined.
	Confirm Confirmer
}

// NewSession creates an idle session. Call Start to load the schema and
// the first text.
func NewSession(params NewSessionParams) *Session {
	confirm := params.Confirm
	if confirm == nil {
		confirm = declineAll{}
	}
	return &Session{
		client:  params.Client,
		schemas: params.Schemas,
		confirm: confirm,
		state:   StateIdle,
	}
}

// Document returns the annotation model of the loaded text, or nil
// before the first load. Edits made through the model are picked up via
// its version counter.
func (s *Session) Document() *annot.Document {
	return s.doc
}

// Schemas returns the schema store the session reads definitions from.
func (s *Session) Schemas() *schema.Store {
	return s.schemas
}

// Cursor returns the zero-based corpus position of the loaded text.
func (s *Session) Cursor() int {
	return s.cursor
}

// Total returns the corpus size reported by the backend.
func (s *Session) Total() int {
	return s.total
}

// Dirty reports whether the model changed since load or the last save.
func (s *Session) Dirty() bool {
	return s.doc != nil && s.doc.Version() != s.baseline
}

// Saved reports whether the backend held annotations for the loaded
// text at load time, and whether that copy was empty.
func (s *Session) Saved() (exists, wasEmpty bool) {
	return s.savedExists, s.savedWasEmpty
}

// State returns the lifecycle phase. A clean document with local edits
// reports StateEditing.
func (s *Session) State() State {
	if s.state == StateClean && s.Dirty() {
		return StateEditing
	}
	return s.state
}

// Progress renders a one-line position indicator for the status bar.
func (s *Session) Progress() string {
	if s.doc == nil {
		return "no text loaded"
	}
	return fmt.Sprintf("text %d/%d (%s)", s.cursor+1, s.total, s.doc.TextID())
}

// Start loads the schema definitions and the first text.
func (s *Session) Start(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	if err := s.schemas.Load(ctx); err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	return s.loadAt(ctx, 0, s.client.NextText)
}

// SaveAndNext persists the current annotations and advances the cursor.
// A document that was already saved and has no local edits is skipped
// without a write. Validation failures and declined overwrites keep the
// session in place with nothing written.
func (s *Session) SaveAndNext(ctx context.Context) (SaveResult, error) {
	if s.doc == nil {
		return SaveResult{}, ErrNoDocument
	}
	if err := s.begin(); err != nil {
		return SaveResult{}, err
	}
	defer s.end()

	if s.savedExists && !s.Dirty() {
		logger.Debug("Skipping save, no edits", "id", s.doc.TextID())
		return s.advance(ctx, SaveResult{Outcome: OutcomeSkipped})
	}

	report := s.doc.Validate()
	if !report.OK() {
		return SaveResult{Outcome: OutcomeInvalid, Report: report}, nil
	}

	prev := s.state
	s.state = StateSaving
	defer func() {
		if s.state == StateSaving {
			s.state = prev
		}
	}()

	overwrite := false
	backend, err := s.client.Annotation(ctx, s.doc.TextID())
	switch {
	case errors.Is(err, gateway.ErrNotFound):
	case err != nil:
		return SaveResult{}, fmt.Errorf("failed to check backend copy: %w", err)
	default:
		overwrite = true
		if len(backend.Entities) > 0 {
			prompt := fmt.Sprintf("Overwrite %d saved entities for %s?", len(backend.Entities), s.doc.TextID())
			if !s.confirm.Confirm(prompt) {
				return SaveResult{Outcome: OutcomeDeclined}, nil
			}
		}
	}

	receipt, err := s.client.SaveAnnotation(ctx, s.payload(), overwrite)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to save annotations: %w", err)
	}

	entities := s.doc.Entities()
	relations := s.doc.Relations()
	s.savedExists = true
	s.savedWasEmpty = len(entities) == 0 && len(relations) == 0
	s.baseline = s.doc.Version()
	s.state = StateClean

	logger.Info("Saved annotations",
		"id", s.doc.TextID(),
		"entities", len(entities),
		"relations", len(relations),
		"overwritten", receipt.Overwritten,
	)

	outcome := OutcomeSaved
	if receipt.Overwritten {
		outcome = OutcomeOverwritten
	}
	return s.advance(ctx, SaveResult{Outcome: outcome})
}

// Prev navigates one text back. Unsaved edits need the Confirmer's
// approval before they are discarded; declining keeps the current
// document and reports moved == false.
func (s *Session) Prev(ctx context.Context) (moved bool, err error) {
	if s.doc == nil {
		return false, ErrNoDocument
	}
	if err := s.begin(); err != nil {
		return false, err
	}
	defer s.end()

	if s.cursor == 0 {
		return false, ErrAtStart
	}
	if s.Dirty() && !s.confirm.Confirm("Discard unsaved edits?") {
		return false, nil
	}
	if err := s.loadAt(ctx, s.cursor-1, s.client.PrevText); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh tells the backend to re-read its relation registry, then
// refetches every schema definition endpoint.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	if err := s.client.RefreshRelations(ctx); err != nil {
		return err
	}
	if err := s.schemas.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh schema: %w", err)
	}

	logger.Info("Refreshed schema",
		"classes", len(s.schemas.ClassNames()),
		"relations", len(s.schemas.RelationNames()),
	)
	return nil
}

// Suggest queries the semantic index. Failures and a missing index both
// come back as an empty, not-ready result so callers fall back to
// browsing the schema by name.
func (s *Session) Suggest(ctx context.Context, query gateway.SuggestQuery) gateway.SuggestResult {
	result, err := s.client.Suggest(ctx, query)
	if err != nil {
		logger.Warn("Suggestion lookup failed", "err", err)
		return gateway.SuggestResult{}
	}
	return result
}

// SemanticStatus reports whether the suggestion index is available.
func (s *Session) SemanticStatus(ctx context.Context, kind string) (gateway.SemanticStatus, error) {
	return s.client.SemanticStatus(ctx, kind)
}

func (s *Session) begin() error {
	if s.inflight {
		return ErrBusy
	}
	s.inflight = true
	return nil
}

func (s *Session) end() {
	s.inflight = false
}

// advance moves to the next text after a save or skip. At the corpus
// end the current document stays loaded.
func (s *Session) advance(ctx context.Context, result SaveResult) (SaveResult, error) {
	err := s.loadAt(ctx, s.cursor+1, s.client.NextText)
	if errors.Is(err, gateway.ErrNoMoreTexts) {
		result.AtEnd = true
		return result, nil
	}
	return result, err
}

// loadAt fetches the text at cursor and hydrates any saved annotations
// for it. Responses from a superseded load cycle are dropped.
func (s *Session) loadAt(ctx context.Context, cursor int, fetch func(context.Context, int) (gateway.TextPage, error)) error {
	prev := s.state
	s.state = StateLoading
	s.gen++
	gen := s.gen

	page, err := fetch(ctx, cursor)
	if err != nil {
		s.state = prev
		return err
	}
	if gen != s.gen {
		return nil
	}

	doc := annot.NewDocument(annot.NewDocumentParams{
		TextID: page.ID,
		Text:   page.Text,
		Schema: s.schemas,
	})

	exists := true
	saved, err := s.client.Annotation(ctx, page.ID)
	if errors.Is(err, gateway.ErrNotFound) {
		exists = false
	} else if err != nil {
		s.state = prev
		return fmt.Errorf("failed to load saved annotations: %w", err)
	}
	if gen != s.gen {
		return nil
	}

	if exists {
		s.hydrate(doc, saved)
	}

	s.doc = doc
	s.cursor = page.Cursor
	s.total = page.Total
	s.savedExists = exists
	s.savedWasEmpty = len(saved.Entities) == 0 && len(saved.Relations) == 0
	s.baseline = doc.Version()
	s.state = StateClean

	logger.Debug("Loaded text",
		"id", page.ID,
		"cursor", page.Cursor,
		"total", page.Total,
		"saved", exists,
	)
	return nil
}

// hydrate restores saved annotations into a fresh model. Entities whose
// spans no longer cover any token are dropped with a warning; relations
// that referenced them surface as dangling in the next validation.
func (s *Session) hydrate(doc *annot.Document, saved gateway.SavedAnnotation) {
	for _, e := range saved.Entities {
		span := token.Span{Start: e.Span.Start, End: e.Span.End}
		if _, err := doc.RestoreEntity(e.ID, e.Class, e.Label, span, gateway.StringAttrs(e.Attributes)); err != nil {
			logger.Warn("Dropped saved entity", "id", e.ID, "err", err)
		}
	}
	for _, r := range saved.Relations {
		if _, err := doc.RestoreRelation(r.ID, r.Predicate, r.Subject, r.Object, gateway.StringAttrs(r.Attributes)); err != nil {
			logger.Warn("Dropped saved relation", "id", r.ID, "err", err)
		}
	}
}

// payload builds the save body from the current model.
func (s *Session) payload() gateway.SavePayload {
	entities := s.doc.Entities()
	relations := s.doc.Relations()

	out := gateway.SavePayload{
		TextID:    s.doc.TextID(),
		Text:      s.doc.Text(),
		Entities:  make([]gateway.Entity, 0, len(entities)),
		Relations: make([]gateway.Relation, 0, len(relations)),
	}
	for _, e := range entities {
		out.Entities = append(out.Entities, gateway.Entity{
			ID:         e.ID,
			Class:      e.Class,
			Label:      e.Label,
			Span:       gateway.Span{Start: e.Span.Start, End: e.Span.End},
			Attributes: gateway.AnyAttrs(e.Attrs),
		})
	}
	for _, r := range relations {
		out.Relations = append(out.Relations, gateway.Relation{
			ID:         r.ID,
			Predicate:  r.Predicate,
			Subject:    r.Subject,
			Object:     r.Object,
			Attributes: gateway.AnyAttrs(r.Attrs),
		})
	}
	return out
}
