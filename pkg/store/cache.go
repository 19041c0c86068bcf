package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

const reportKeyPrefix = "medtriage:report:"

// CachedReportStore puts a Redis read-through cache in front of another
// ReportStore. Cache failures are logged and never fail a call.
type CachedReportStore struct {
	next   ReportStore
	client *redis.Client
	ttl    time.Duration
}

func NewCachedReportStore(next ReportStore, client *redis.Client, ttl time.Duration) *CachedReportStore {
	return &CachedReportStore{next: next, client: client, ttl: ttl}
}

func reportKey(sessionID string) string {
	return fmt.Sprintf("%s%s", reportKeyPrefix, sessionID)
}

func (s *CachedReportStore) Save(ctx context.Context, report *models.Report) error {
	if err := s.next.Save(ctx, report); err != nil {
		return err
	}
	s.fill(ctx, report)
	return nil
}

func (s *CachedReportStore) Get(ctx context.Context, sessionID string) (*models.Report, error) {
	key := reportKey(sessionID)
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var report models.Report
		if jsonErr := json.Unmarshal(data, &report); jsonErr == nil {
			return &report, nil
		}
		logger.Log.WithField("key", key).Warn("Discarding undecodable cached report")
	case errors.Is(err, redis.Nil):
	default:
		logger.Log.WithError(err).WithField("key", key).Warn("Report cache read failed")
	}

	report, err := s.next.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, report)
	return report, nil
}

func (s *CachedReportStore) fill(ctx context.Context, report *models.Report) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	key := reportKey(report.SessionID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Report cache write failed")
		return
	}
	logger.Log.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Cached report")
}
