// Package usage tracks per-provider call counts and quota exhaustions in a
// small sqlite database, separate from the job registry's JSON file. This
// mirrors the teacher's database.go connection setup but backs a narrower,
// eventually-consistent metrics concern instead of the job table itself.
package usage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Stat is one (provider, kind) counter row.
type Stat struct {
	Provider         string     `json:"provider" gorm:"primaryKey;type:varchar(64)"`
	Kind             string     `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	Calls            int64      `json:"calls" gorm:"not null;default:0"`
	QuotaExhaustions int64      `json:"quota_exhaustions" gorm:"not null;default:0"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
}

// Kind values, matching the pipeline stage a provider serves.
const (
	KindSTT       = "stt"
	KindTranslate = "translate"
	KindTTS       = "tts"
	KindQuality   = "quality"
)

// Store wraps the gorm connection with the two counters the control plane
// needs: RecordCall and RecordQuotaExhaustion.
type Store struct {
	db *gorm.DB
}

// Open connects to (creating if absent) the sqlite file at dbPath and
// migrates the Stat table.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create usage db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_timeout=30000",
		dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to usage database: %w", err)
	}

	if err := db.AutoMigrate(&Stat{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate usage database: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordCall increments the call counter for provider/kind, creating the
// row on first use.
func (s *Store) RecordCall(provider, kind string) error {
	now := time.Now()
	var stat Stat
	err := s.db.Where(Stat{Provider: provider, Kind: kind}).
		Attrs(Stat{Calls: 0, QuotaExhaustions: 0}).
		FirstOrCreate(&stat).Error
	if err != nil {
		return err
	}
	return s.db.Model(&stat).Updates(map[string]any{
		"calls":        gorm.Expr("calls + 1"),
		"last_used_at": now,
	}).Error
}

// RecordQuotaExhaustion increments the quota-exhaustion counter for
// provider/kind.
func (s *Store) RecordQuotaExhaustion(provider, kind string) error {
	var stat Stat
	err := s.db.Where(Stat{Provider: provider, Kind: kind}).
		Attrs(Stat{Calls: 0, QuotaExhaustions: 0}).
		FirstOrCreate(&stat).Error
	if err != nil {
		return err
	}
	return s.db.Model(&stat).Update("quota_exhaustions", gorm.Expr("quota_exhaustions + 1")).Error
}

// All returns every tracked provider/kind row, for the /system/status
// response.
func (s *Store) All() ([]Stat, error) {
	var stats []Stat
	if err := s.db.Order("kind, provider").Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
