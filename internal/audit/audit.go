// Package audit batch-validates saved annotations: it walks the corpus,
// rebuilds each saved annotation set against the current schema and runs
// the relation validator over it. It never writes anything back.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/relmark/relmark/internal/util"
	"github.com/relmark/relmark/pkg/annot"
	"github.com/relmark/relmark/pkg/gateway"
	"github.com/relmark/relmark/pkg/logger"
	"github.com/relmark/relmark/pkg/schema"
	"github.com/relmark/relmark/pkg/token"
)

// Source is the read-only slice of the backend the auditor walks.
type Source interface {
	NextText(ctx context.Context, cursor int) (gateway.TextPage, error)
	AnnotationExists(ctx context.Context, textID string) (bool, error)
	Annotation(ctx context.Context, textID string) (gateway.SavedAnnotation, error)
}

// Summary counts one audit run. Scanned covers every text in the corpus,
// Audited the ones that had saved annotations to check.
type Summary struct {
	Scanned int
	Audited int
	Failed  int
}

// Auditor walks the corpus once. Reads are retried since they are
// idempotent; a read that keeps failing aborts the run.
type Auditor struct {
	source  Source
	schemas *schema.Store
	retries int
}

type NewAuditorParams struct {
	Source  Source
	Schemas *schema.Store

	// Retries bounds attempts per backend read. Zero or negative means a
	// single attempt.
	Retries int
}

func NewAuditor(params NewAuditorParams) *Auditor {
	return &Auditor{
		source:  params.Source,
		schemas: params.Schemas,
		retries: params.Retries,
	}
}

// Run walks every text and validates the saved annotations where they
// exist. An empty corpus yields an empty summary and no error.
func (a *Auditor) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for cursor := 0; ; cursor++ {
		page, err := util.RetryWithContext(ctx, a.retries, func(ctx context.Context) (gateway.TextPage, error) {
			return a.source.NextText(ctx, cursor)
		})
		if errors.Is(err, gateway.ErrNoMoreTexts) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("failed to fetch text at cursor %d: %w", cursor, err)
		}
		sum.Scanned++

		exists, err := util.RetryWithContext(ctx, a.retries, func(ctx context.Context) (bool, error) {
			return a.source.AnnotationExists(ctx, page.ID)
		})
		if err != nil {
			return sum, fmt.Errorf("failed to check annotations for %s: %w", page.ID, err)
		}
		if !exists {
			logger.Debug("No saved annotations", "text", page.ID)
			continue
		}

		saved, err := util.RetryWithContext(ctx, a.retries, func(ctx context.Context) (gateway.SavedAnnotation, error) {
			return a.source.Annotation(ctx, page.ID)
		})
		if err != nil {
			return sum, fmt.Errorf("failed to fetch annotations for %s: %w", page.ID, err)
		}

		sum.Audited++
		if !a.auditDocument(page, saved) {
			sum.Failed++
		}
	}
}

// auditDocument rebuilds the annotation model from the saved copy and runs
// the validator. Saved records that cannot be restored count as failures
// even when the surviving relations validate.
func (a *Auditor) auditDocument(page gateway.TextPage, saved gateway.SavedAnnotation) bool {
	doc := annot.NewDocument(annot.NewDocumentParams{
		TextID: page.ID,
		Text:   page.Text,
		Schema: a.schemas,
	})

	dropped := 0
	for _, e := range saved.Entities {
		span := token.Span{Start: e.Span.Start, End: e.Span.End}
		if _, err := doc.RestoreEntity(e.ID, e.Class, e.Label, span, gateway.StringAttrs(e.Attributes)); err != nil {
			logger.Warn("Unrestorable entity", "text", page.ID, "entity", e.ID, "err", err)
			dropped++
		}
	}
	for _, r := range saved.Relations {
		if _, err := doc.RestoreRelation(r.ID, r.Predicate, r.Subject, r.Object, gateway.StringAttrs(r.Attributes)); err != nil {
			logger.Warn("Unrestorable relation", "text", page.ID, "relation", r.ID, "err", err)
			dropped++
		}
	}

	report := doc.Validate()
	if report.OK() && dropped == 0 {
		logger.Info("Audit passed", "text", page.ID,
			"entities", len(doc.Entities()), "relations", len(doc.Relations()))
		return true
	}

	for _, p := range report.Problems {
		logger.Error("Audit problem", "text", page.ID, "problem", p.Message)
	}
	if dropped > 0 {
		logger.Error("Audit dropped records", "text", page.ID, "dropped", dropped)
	}
	return false
}
