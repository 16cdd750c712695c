package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"intake-chatbot/internal/core"
	"intake-chatbot/pkg"
)

// Reports is the document collaborator: it stores each finished session's
// report and announces it to clinicians.
type Reports struct {
	repo     *Repository
	notifier *Notifier
	log      *zap.Logger
}

// NewReports returns a document generator.  notifier may be nil.
func NewReports(repo *Repository, notifier *Notifier, log *zap.Logger) *Reports {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reports{repo: repo, notifier: notifier, log: log}
}

var _ core.DocumentGenerator = (*Reports)(nil)

// Generate stores the report and returns its ID.  A failed notification is
// logged only; the report is already saved.
func (g *Reports) Generate(ctx context.Context, req core.DocumentRequest) (string, error) {
	id, err := g.repo.CreateReport(ctx, pkg.Report{
		SessionID: req.SessionID,
		Summary:   req.SummaryText,
		Resources: req.Bundle,
		Comments:  req.Comments,
	})
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, req.SessionID); err != nil {
			g.log.Warn("report notification failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}
	return id, nil
}
