package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/voicecoach-backend/internal/platform/envutil"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

type Service struct {
	db     *gorm.DB
	driver string
	log    *logger.Logger
}

// New opens the database selected by DB_DRIVER (postgres by default,
// sqlite for local runs).
func New(logg *logger.Logger) (*Service, error) {
	switch strings.ToLower(envutil.String("DB_DRIVER", "postgres")) {
	case "sqlite":
		return NewSQLiteService(logg, envutil.String("SQLITE_PATH", "voicecoach.db"))
	default:
		return NewPostgresService(logg)
	}
}

func NewPostgresService(logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "PostgresService")

	dsn := envutil.String("POSTGRES_DSN", "")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			envutil.String("POSTGRES_USER", "postgres"),
			envutil.String("POSTGRES_PASSWORD", ""),
			envutil.String("POSTGRES_HOST", "localhost"),
			envutil.String("POSTGRES_PORT", "5432"),
			envutil.String("POSTGRES_NAME", "voicecoach"),
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	serviceLog.Info("Connected to Postgres", "host", envutil.String("POSTGRES_HOST", "localhost"))
	return &Service{db: db, driver: "postgres", log: serviceLog}, nil
}

// NewSQLiteService opens a pure-Go sqlite database. The pool is pinned to a
// single connection: sqlite serializes writers anyway and ":memory:"
// databases exist per connection.
func NewSQLiteService(logg *logger.Logger, path string) (*Service, error) {
	serviceLog := logg.With("service", "SQLiteService")
	db, err := OpenSQLite(path, newGormLogger())
	if err != nil {
		return nil, err
	}
	serviceLog.Info("Opened sqlite database", "path", path)
	return &Service{db: db, driver: "sqlite", log: serviceLog}, nil
}

func OpenSQLite(path string, gl gormLogger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return db, nil
}

func newGormLogger() gormLogger.Interface {
	return gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func (s *Service) DB() *gorm.DB { return s.db }
func (s *Service) Driver() string { return s.driver }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
