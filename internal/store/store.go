package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/result"
)

// ResultRow is the persisted form of one chunk result.
type ResultRow struct {
	ID                  uint      `gorm:"primaryKey" json:"-"`
	UserID              string    `gorm:"index" json:"user_id"`
	Timestamp           time.Time `gorm:"index" json:"timestamp"`
	Modality            string    `json:"modality"`
	Emotion             string    `json:"emotion"`
	EmotionConfidence   float64   `json:"emotion_confidence"`
	Transcript          string    `json:"transcript,omitempty"`
	Language            string    `json:"language,omitempty"`
	Sentiment           string    `json:"sentiment,omitempty"`
	SentimentConfidence float64   `json:"sentiment_confidence,omitempty"`
	IsError             bool      `json:"is_error"`
	CreatedAt           time.Time `json:"created_at"`
}

// TableName keeps the table name stable across gorm versions.
func (ResultRow) TableName() string {
	return "voice_emotion_results"
}

// Store wraps the database handle used for chunk result persistence.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database, runs migrations and returns
// the store. Driver must be "sqlite" or "postgres".
func Open(logger *slog.Logger, driver, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver == "sqlite" {
			dsn = "ser.db"
		} else {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var db *gorm.DB
	var err error
	switch driver {
	case "sqlite":
		if dirErr := ensureSQLiteDirectory(dsn); dirErr != nil {
			return nil, dirErr
		}
		db, err = gorm.Open(sqliteDriver.Open(dsn), gormConfig)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&ResultRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("Result store opened",
		slog.String("driver", driver),
	)

	return &Store{db: db, logger: logger}, nil
}

// ensureSQLiteDirectory creates the parent directory for a file-backed
// SQLite database. In-memory DSNs need no directory.
func ensureSQLiteDirectory(dsn string) error {
	if strings.EqualFold(dsn, ":memory:") || strings.HasPrefix(strings.ToLower(dsn), "file::memory:") {
		return nil
	}
	path := dsn
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

// InsertResult persists one chunk result.
func (s *Store) InsertResult(res result.ChunkResult) error {
	row := ResultRow{
		UserID:              res.UserID,
		Timestamp:           res.Timestamp,
		Modality:            res.Modality,
		Emotion:             res.Emotion,
		EmotionConfidence:   res.EmotionConfidence,
		Transcript:          res.Transcript,
		Language:            res.Language,
		Sentiment:           res.Sentiment,
		SentimentConfidence: res.SentimentConfidence,
		IsError:             res.IsError,
	}

	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// RecentResults returns up to limit of the user's most recent persisted
// results, newest first. An empty userID returns results across users.
func (s *Store) RecentResults(userID string, limit int) ([]ResultRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.db.Order("timestamp DESC").Limit(limit)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var rows []ResultRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	return rows, nil
}

// CountResults returns the total number of persisted results.
func (s *Store) CountResults() (int64, error) {
	var count int64
	if err := s.db.Model(&ResultRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
