package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReportRecord struct {
	SessionID   string         `gorm:"primaryKey;column:session_id"`
	PatientID   string         `gorm:"column:patient_id;index"`
	TriageLevel int            `gorm:"column:triage_level;index"`
	Degraded    bool           `gorm:"column:degraded"`
	EntityCount int            `gorm:"column:entity_count"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	GeneratedAt time.Time      `gorm:"column:generated_at"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (ReportRecord) TableName() string {
	return "triage_reports"
}

type SessionRecord struct {
	ID           string     `gorm:"primaryKey;column:id"`
	PatientID    string     `gorm:"column:patient_id;index"`
	Status       string     `gorm:"column:status;index"`
	Stage        string     `gorm:"column:stage"`
	ErrorCode    string     `gorm:"column:error_code"`
	ErrorMessage string     `gorm:"column:error_message"`
	Degraded     bool       `gorm:"column:degraded"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
}

func (SessionRecord) TableName() string {
	return "triage_sessions"
}

type PostgresReportStore struct {
	db *gorm.DB
}

func NewPostgresReportStore(db *gorm.DB) *PostgresReportStore {
	return &PostgresReportStore{db: db}
}

func (s *PostgresReportStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ReportRecord{})
}

// Save upserts on session id so a retried save cannot duplicate a report.
func (s *PostgresReportStore) Save(ctx context.Context, report *models.Report) error {
	rec, err := toReportRecord(report)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	updates := clause.AssignmentColumns([]string{
		"patient_id", "triage_level", "degraded", "entity_count", "payload", "generated_at", "updated_at",
	})
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: updates,
	}).Create(rec).Error
}

func (s *PostgresReportStore) Get(ctx context.Context, sessionID string) (*models.Report, error) {
	var rec ReportRecord
	result := s.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return fromReportRecord(&rec)
}

func toReportRecord(report *models.Report) (*ReportRecord, error) {
	if report == nil || report.SessionID == "" {
		return nil, fmt.Errorf("save report: missing session id")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report %s: %w", report.SessionID, err)
	}
	return &ReportRecord{
		SessionID:   report.SessionID,
		PatientID:   report.PatientID,
		TriageLevel: int(report.Triage.Level),
		Degraded:    report.Metadata.Degraded,
		EntityCount: len(report.Entities),
		Payload:     datatypes.JSON(payload),
		GeneratedAt: report.GeneratedAt,
	}, nil
}

func fromReportRecord(rec *ReportRecord) (*models.Report, error) {
	var report models.Report
	if err := json.Unmarshal(rec.Payload, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", rec.SessionID, err)
	}
	return &report, nil
}

type PostgresSessionStore struct {
	db *gorm.DB
}

func NewPostgresSessionStore(db *gorm.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (s *PostgresSessionStore) AutoMigrate() error {
	return s.db.AutoMigrate(&SessionRecord{})
}

func (s *PostgresSessionStore) Create(ctx context.Context, session *models.Session) error {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&SessionRecord{}).Where("id = ?", session.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", ErrSessionExists, session.ID)
	}
	return s.db.WithContext(ctx).Create(toSessionRecord(session)).Error
}

func (s *PostgresSessionStore) Update(ctx context.Context, session *models.Session) error {
	rec := toSessionRecord(session)
	result := s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"status":        rec.Status,
			"stage":         rec.Stage,
			"error_code":    rec.ErrorCode,
			"error_message": rec.ErrorMessage,
			"degraded":      rec.Degraded,
			"updated_at":    rec.UpdatedAt,
			"completed_at":  rec.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresSessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var rec SessionRecord
	result := s.db.WithContext(ctx).First(&rec, "id = ?", sessionID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return fromSessionRecord(&rec), nil
}

func toSessionRecord(s *models.Session) *SessionRecord {
	return &SessionRecord{
		ID:           s.ID,
		PatientID:    s.PatientID,
		Status:       string(s.Status),
		Stage:        string(s.Stage),
		ErrorCode:    string(s.ErrorCode),
		ErrorMessage: s.ErrorMessage,
		Degraded:     s.Degraded,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		CompletedAt:  s.CompletedAt,
	}
}

func fromSessionRecord(rec *SessionRecord) *models.Session {
	return &models.Session{
		ID:           rec.ID,
		PatientID:    rec.PatientID,
		Status:       models.SessionStatus(rec.Status),
		Stage:        models.Stage(rec.Stage),
		ErrorCode:    models.ErrorCode(rec.ErrorCode),
		ErrorMessage: rec.ErrorMessage,
		Degraded:     rec.Degraded,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		CompletedAt:  rec.CompletedAt,
	}
}
