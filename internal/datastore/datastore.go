// Package datastore persists labeling sessions so they can be resumed.
// SQLite and MySQL are supported through GORM.
package datastore

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/patchwork-go/internal/conf"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/logger"
	"github.com/tphakala/patchwork-go/internal/observability/metrics"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Store is the GORM-backed session store.
type Store struct {
	db       *gorm.DB
	driver   string
	recorder metrics.Recorder
	log      logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder reports operation counts and latencies to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open connects to the database named by settings and migrates the schema.
func Open(settings conf.DatastoreSettings, opts ...Option) (*Store, error) {
	switch settings.Driver {
	case DriverSQLite, "":
		return OpenSQLite(settings.SQLite.Path, settings.SlowQueryThreshold, opts...)
	case DriverMySQL:
		return openMySQL(settings.MySQL, settings.SlowQueryThreshold, opts...)
	default:
		return nil, errors.Newf("datastore: unknown driver %q", settings.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string, slowThreshold time.Duration, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.FileError(err, dir)
		}
	}
	s := newStore(DriverSQLite, opts)
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if err := s.open(sqlite.Open(dsn), slowThreshold, logger.String("path", path)); err != nil {
		return nil, err
	}
	return s, nil
}

func openMySQL(cfg conf.MySQLSettings, slowThreshold time.Duration, opts ...Option) (*Store, error) {
	s := newStore(DriverMySQL, opts)
	err := s.open(mysql.Open(mysqlDSN(cfg)), slowThreshold,
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("database", cfg.Database))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// mysqlDSN builds the driver connection string for cfg.
func mysqlDSN(cfg conf.MySQLSettings) string {
	dc := gomysql.NewConfig()
	dc.User = cfg.Username
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = mysqlAddr(cfg.Host, cfg.Port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.Local
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

func mysqlAddr(host string, port int) string {
	if port == 0 {
		port = 3306
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func newStore(driver string, opts []Option) *Store {
	s := &Store{driver: driver, recorder: metrics.NopRecorder{}}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	return s
}

func (s *Store) open(dialector gorm.Dialector, slowThreshold time.Duration, fields ...logger.Field) error {
	start := time.Now()
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(s.log, slowThreshold),
	})
	if err != nil {
		s.log.Error("failed to open database", append(fields, logger.Error(err))...)
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", s.driver).
			Build()
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	s.db = db
	s.log.Debug("database ready",
		append(fields,
			logger.String("driver", s.driver),
			logger.Duration("duration", time.Since(start)))...)
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	if err := sqlDB.Close(); err != nil {
		return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	s.db = nil
	return nil
}

// observe records the outcome of op and wraps err for the caller.
func (s *Store) observe(op string, start time.Time, err error) error {
	s.recorder.RecordDuration(op, time.Since(start).Seconds())
	if err == nil {
		s.recorder.RecordOperation(op, metrics.StatusSuccess)
		return nil
	}
	s.recorder.RecordOperation(op, metrics.StatusError)

	category := errors.CategoryDatabase
	if errors.Is(err, gorm.ErrRecordNotFound) {
		category = errors.CategoryNotFound
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		category = ee.Category
	}
	s.recorder.RecordError(op, string(category))

	if ee != nil {
		return err
	}
	return errors.New(err).
		Component("datastore").
		Category(category).
		Context("operation", op).
		Build()
}
