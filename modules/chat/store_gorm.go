package chat

import (
	"context"
	"fmt"
	"time"

	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/luisnisc/flowpilot-sub000/storage"
	"gorm.io/gorm"
)

// messageRecord is the SQL row of a message. Seq keeps insertion order for
// messages sharing a timestamp.
type messageRecord struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"size:36;uniqueIndex;not null"`
	ProjectID string `gorm:"size:128;not null;index:idx_messages_project_sent,priority:1"`
	Author    string `gorm:"size:254;not null"`
	Body      string `gorm:"type:text;not null"`
	SentAtMs  int64  `gorm:"not null;index:idx_messages_project_sent,priority:2"`
}

// TableName returns the table name for messageRecord.
func (messageRecord) TableName() string {
	return "messages"
}

func toRecord(m *domain.Message) *messageRecord {
	return &messageRecord{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Author:    m.Author,
		Body:      m.Body,
		SentAtMs:  m.CreatedAt.UnixMilli(),
	}
}

func (r *messageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Author:    r.Author,
		Body:      r.Body,
		CreatedAt: time.UnixMilli(r.SentAtMs).UTC(),
	}
}

// GormStore is the SQLite message store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the messages table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &GormStore{db: db}, nil
}

// OpenGormStore opens the SQLite database at path.
func OpenGormStore(path string) (*GormStore, error) {
	db, err := storage.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return NewGormStore(db)
}

// Save inserts a message.
func (s *GormStore) Save(ctx context.Context, msg *domain.Message) error {
	if err := s.db.WithContext(ctx).Create(toRecord(msg)).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Recent returns the newest limit messages of a project, oldest first.
func (s *GormStore) Recent(ctx context.Context, projectID string, limit int) ([]domain.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("sent_at_ms DESC").Order("seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	out := make([]domain.Message, len(records))
	for i := range records {
		out[len(records)-1-i] = records[i].toDomain()
	}
	return out, nil
}

// After returns up to limit messages of a project strictly newer than after,
// oldest first.
func (s *GormStore) After(ctx context.Context, projectID string, after time.Time, limit int) ([]domain.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND sent_at_ms > ?", projectID, after.UnixMilli()).
		Order("sent_at_ms ASC").Order("seq ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages after %s: %w", after.Format(time.RFC3339Nano), err)
	}

	out := make([]domain.Message, len(records))
	for i := range records {
		out[i] = records[i].toDomain()
	}
	return out, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (s *GormStore) Close() error {
	return storage.Close(s.db)
}

// Driver names the backing database.
func (s *GormStore) Driver() string {
	return "sqlite"
}
