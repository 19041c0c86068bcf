// Package store persists reports and session records. Reports are keyed by
// session id and never mutated after they are saved.
package store

import (
	"context"
	"errors"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrSessionExists = errors.New("session already exists")
)

type ReportStore interface {
	// Save is idempotent per session id.
	Save(ctx context.Context, report *models.Report) error
	Get(ctx context.Context, sessionID string) (*models.Report, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

func copySession(s *models.Session) *models.Session {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
