package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/Yoseph-M/Soultalk-sub000/pkg/database"
)

// credential is one row of the credentials table.
type credential struct {
	Namespace string `gorm:"primaryKey;size:128"`
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (credential) TableName() string { return "credentials" }

// SQLiteStore keeps credentials in a local SQLite database through gorm.
type SQLiteStore struct {
	db        *gorm.DB
	namespace string
}

// OpenSQLiteStore opens dsn and migrates the credentials table.
func OpenSQLiteStore(ctx context.Context, dsn, namespace string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite credential store: dsn is required")
	}
	db, err := gorm.Open(gormsqlite.New(gormsqlite.Config{
		DriverName: "sqlite",
		DSN:        dsn,
	}), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&credential{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate credentials table: %w", err)
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "GetCredential", "SELECT credentials")
	defer func() { end(err) }()

	var row credential
	err = s.db.WithContext(ctx).
		Where(&credential{Namespace: s.namespace, Name: key}).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "SetCredential", "UPSERT credentials")
	defer func() { end(err) }()

	row := credential{Namespace: s.namespace, Name: key, Value: value}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, end := database.TraceQuery(ctx, database.SystemSQLite, "DeleteCredentials", "DELETE credentials")
	defer func() { end(err) }()

	err = s.db.WithContext(ctx).
		Where("namespace = ? AND name IN ?", s.namespace, keys).
		Delete(&credential{}).Error
	if err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
