package store

import (
	"context"
	"errors"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/common/httpclient"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// RetryingReportStore retries transient storage failures with capped
// backoff. Final failures are returned as StorageError; ErrNotFound and
// cancellation are passed through untouched.
type RetryingReportStore struct {
	next     ReportStore
	attempts int
	delay    time.Duration
}

func NewRetryingReportStore(next ReportStore, attempts int, delay time.Duration) *RetryingReportStore {
	return &RetryingReportStore{next: next, attempts: attempts, delay: delay}
}

func (s *RetryingReportStore) Save(ctx context.Context, report *models.Report) error {
	attempt := 0
	err := httpclient.Retry(ctx, s.attempts, s.delay, func() error {
		attempt++
		err := s.next.Save(ctx, report)
		if err != nil && attempt < s.attempts {
			logger.Log.WithError(err).WithField("attempt", attempt).Warn("Report save failed, retrying")
		}
		return permanentIf(err)
	})
	return storageError("save report", err)
}

func (s *RetryingReportStore) Get(ctx context.Context, sessionID string) (*models.Report, error) {
	var report *models.Report
	err := httpclient.Retry(ctx, s.attempts, s.delay, func() error {
		var err error
		report, err = s.next.Get(ctx, sessionID)
		return permanentIf(err)
	})
	if err != nil {
		return nil, storageError("get report", err)
	}
	return report, nil
}

// RetryingSessionStore applies the same policy to session records.
type RetryingSessionStore struct {
	next     SessionStore
	attempts int
	delay    time.Duration
}

func NewRetryingSessionStore(next SessionStore, attempts int, delay time.Duration) *RetryingSessionStore {
	return &RetryingSessionStore{next: next, attempts: attempts, delay: delay}
}

func (s *RetryingSessionStore) Create(ctx context.Context, session *models.Session) error {
	err := httpclient.Retry(ctx, s.attempts, s.delay, func() error {
		return permanentIf(s.next.Create(ctx, session))
	})
	return storageError("create session", err)
}

func (s *RetryingSessionStore) Update(ctx context.Context, session *models.Session) error {
	err := httpclient.Retry(ctx, s.attempts, s.delay, func() error {
		return permanentIf(s.next.Update(ctx, session))
	})
	return storageError("update session", err)
}

func (s *RetryingSessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var session *models.Session
	err := httpclient.Retry(ctx, s.attempts, s.delay, func() error {
		var err error
		session, err = s.next.Get(ctx, sessionID)
		return permanentIf(err)
	})
	if err != nil {
		return nil, storageError("get session", err)
	}
	return session, nil
}

func permanentIf(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionExists) || errors.Is(err, context.Canceled) {
		return httpclient.Permanent(err)
	}
	return err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || models.IsStorageError(err) {
		return err
	}
	return models.StorageError(op, err)
}
