// Package audit records refresh/check outcomes in a local sqlite database so
// the UI can show a history beyond the current snapshot.
package audit

import (
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one refresh/check/import outcome.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"index" json:"accountId"`
	Email     string    `json:"email"`
	Operation string    `json:"operation"` // refresh | check | import | batch-refresh | batch-check
	Outcome   string    `json:"outcome"`   // ok | failed
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latencyMs"`
	CreatedAt time.Time `json:"createdAt"`
}

// Logger appends entries. A nil Logger is safe to call and records nothing.
type Logger struct {
	db *gorm.DB
}

// Open initializes the audit database and runs migrations.
func Open(path string) (*Logger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Logger{db: db}, nil
}

// Record appends one entry. Failures are logged, never propagated; auditing
// must not fail the operation it describes.
func (l *Logger) Record(accountID, email, operation string, start time.Time, opErr error) {
	if l == nil || l.db == nil {
		return
	}
	entry := Entry{
		AccountID: accountID,
		Email:     email,
		Operation: operation,
		Outcome:   "ok",
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if opErr != nil {
		entry.Outcome = "failed"
		entry.Error = opErr.Error()
	}
	if err := l.db.Create(&entry).Error; err != nil {
		log.Printf("⚠️ Failed to write audit entry: %v", err)
	}
}

// Recent returns the newest entries, capped at limit.
func (l *Logger) Recent(limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	err := l.db.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// ForAccount returns the newest entries for one account.
func (l *Logger) ForAccount(accountID string, limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	err := l.db.Where("account_id = ?", accountID).Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
