package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/playintel/market-analyst/internal/model"
)

// quotaRow is the relational shape of a QuotaRecord.
type quotaRow struct {
	UserID    string    `gorm:"primaryKey;size:191"`
	Plan      string    `gorm:"size:64;not null;default:''"`
	Used      int       `gorm:"not null;default:0"`
	ResetAt   time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (quotaRow) TableName() string {
	return "quota_records"
}

func (r quotaRow) record() model.QuotaRecord {
	return model.QuotaRecord{
		UserID:    r.UserID,
		Plan:      r.Plan,
		Used:      r.Used,
		ResetAt:   r.ResetAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// GormStore persists records in MySQL. Reserve locks the user's row with
// SELECT ... FOR UPDATE inside a transaction.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore connects to a MySQL DSN and migrates the quota table.
func NewGormStore(ctx context.Context, dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStoreWithDB(ctx, db)
}

// NewGormStoreWithDB wraps an existing handle and migrates the quota table.
func NewGormStoreWithDB(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&quotaRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate quota table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) withRow(ctx context.Context, userID, plan string, now time.Time, fn func(rec *model.QuotaRecord) bool) (model.QuotaRecord, bool, error) {
	var out model.QuotaRecord
	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := quotaRow{UserID: userID, Plan: plan, ResetAt: NextReset(now), UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var row quotaRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&row).Error; err != nil {
			return err
		}

		rec := row.record()
		if plan != "" {
			rec.Plan = plan
		}
		rollover(&rec, now)
		ok = fn(&rec)
		rec.UpdatedAt = now

		out = rec
		return tx.Model(&quotaRow{}).Where("user_id = ?", userID).Updates(map[string]any{
			"plan":       rec.Plan,
			"used":       rec.Used,
			"reset_at":   rec.ResetAt,
			"updated_at": rec.UpdatedAt,
		}).Error
	})
	if err != nil {
		return model.QuotaRecord{}, false, err
	}
	return out, ok, nil
}

// Reserve consumes one unit if the user is under limit.
func (s *GormStore) Reserve(ctx context.Context, userID, plan string, limit int, now time.Time) (model.QuotaRecord, bool, error) {
	return s.withRow(ctx, userID, plan, now, func(rec *model.QuotaRecord) bool {
		return admit(rec, limit)
	})
}

// Release returns one unit in the current period.
func (s *GormStore) Release(ctx context.Context, userID string, now time.Time) (model.QuotaRecord, error) {
	rec, _, err := s.withRow(ctx, userID, "", now, func(rec *model.QuotaRecord) bool {
		if rec.Used > 0 {
			rec.Used--
		}
		return true
	})
	return rec, err
}

// Get returns the current record.
func (s *GormStore) Get(ctx context.Context, userID, plan string, now time.Time) (model.QuotaRecord, error) {
	var row quotaRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.QuotaRecord{UserID: userID, Plan: plan, ResetAt: NextReset(now), UpdatedAt: now}, nil
	}
	if err != nil {
		return model.QuotaRecord{}, err
	}
	rec := row.record()
	rollover(&rec, now)
	return rec, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
