package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// MemoryReportStore keeps reports as encoded JSON so callers never share
// state with the store.
type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[string][]byte
}

func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[string][]byte)}
}

func (s *MemoryReportStore) Save(ctx context.Context, report *models.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report == nil || report.SessionID == "" {
		return fmt.Errorf("save report: missing session id")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.SessionID, err)
	}
	s.mu.Lock()
	s.reports[report.SessionID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryReportStore) Get(ctx context.Context, sessionID string) (*models.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.reports[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", sessionID, err)
	}
	return &report, nil
}

// IDs lists stored session ids in sorted order.
func (s *MemoryReportStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.reports))
	for id := range s.reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (s *MemorySessionStore) Create(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, session.ID)
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *MemorySessionStore) Update(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}
