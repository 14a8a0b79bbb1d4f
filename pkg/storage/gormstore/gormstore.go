// Package gormstore is a GORM-backed storage adapter for PostgreSQL and
// SQLite. Documents are stored one row per document with the loosely-shaped
// field bag in a JSON column; matching and sorting of the field bag happen in
// memory after a resource-scoped query, which keeps behavior identical
// across both dialects.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/request"
	"github.com/hashicorp-forge/tome/pkg/storage"
)

// Driver names accepted by Config.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the database connection settings.
type Config struct {
	// Driver selects the dialect: DriverPostgres or DriverSQLite.
	Driver string

	// PostgreSQL settings.
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// Path is the SQLite database path.
	Path string

	// Connection pool settings.
	MaxIdleConns    int           // default 10
	MaxOpenConns    int           // default 25
	ConnMaxLifetime time.Duration // default 5 minutes
	ConnMaxIdleTime time.Duration // default 10 minutes
}

// DocumentRecord is a stored document row. Document timestamps live in their
// own columns so gorm's bookkeeping columns never clobber them.
type DocumentRecord struct {
	ID        string `gorm:"primaryKey;type:varchar(191)"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Resource string `gorm:"type:varchar(191);not null;index:idx_documents_resource"`

	DocumentCreatedAt  time.Time `gorm:"index:idx_documents_created"`
	DocumentModifiedAt time.Time `gorm:"index:idx_documents_modified"`

	// Version is the stored document version; zero for unversioned rows.
	Version int `gorm:"not null;default:0"`

	Fields JSON `gorm:"type:json"`
}

// TableName specifies the table name.
func (DocumentRecord) TableName() string {
	return "documents"
}

// Store is the GORM-backed adapter.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// Open connects to the configured database, applies pool settings, migrates
// the documents table and returns the adapter.
func Open(cfg Config, log hclog.Logger) (*Store, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	gormConfig := &gorm.Config{Logger: newGormLogger(log.Named("gorm"))}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
	case DriverPostgres, "":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.DBName,
			cfg.SSLMode,
		)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 10
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns == 0 {
		maxOpenConns = 25
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)

	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return nil, fmt.Errorf("migrating documents table: %w", err)
	}

	log.Info("connected to document database",
		"driver", cfg.Driver,
		"max_idle_conns", maxIdleConns,
		"max_open_conns", maxOpenConns,
	)

	return &Store{db: db, logger: log}, nil
}

// Insert stores a document under a resource. Documents without an identity
// are assigned a generated one; the assigned identity is reflected back on
// the argument.
func (s *Store) Insert(ctx context.Context, resource string, doc *document.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	rec, err := toRecord(resource, doc)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Find implements storage.Store.
func (s *Store) Find(ctx context.Context, resource string, req *request.Request, lookup storage.Lookup) (storage.Cursor, error) {
	candidates, err := s.load(ctx, resource, lookup)
	if err != nil {
		return nil, err
	}

	page, total, err := storage.ApplyRequest(candidates, req)
	if err != nil {
		return nil, err
	}
	return &cursor{docs: page, count: total}, nil
}

// FindOne implements storage.Store.
func (s *Store) FindOne(ctx context.Context, resource string, req *request.Request, lookup storage.Lookup) (*document.Document, error) {
	candidates, err := s.load(ctx, resource, lookup)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, storage.ErrNotFound
	}
	return candidates[0], nil
}

// IsEmpty implements storage.Store.
func (s *Store) IsEmpty(ctx context.Context, resource string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&DocumentRecord{}).
		Where("resource = ?", resource).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("counting documents: %w", err)
	}
	return count == 0, nil
}

// load fetches the resource's rows, narrowing by identity and version in SQL
// when the lookup allows it, and finishes matching in memory.
func (s *Store) load(ctx context.Context, resource string, lookup storage.Lookup) ([]*document.Document, error) {
	q := s.db.WithContext(ctx).Where("resource = ?", resource)
	rest := storage.Lookup{}
	for k, v := range lookup {
		switch k {
		case document.IDField:
			q = q.Where("id = ?", fmt.Sprint(v))
		case document.VersionField:
			q = q.Where("version = ?", v)
		default:
			rest[k] = v
		}
	}

	var records []DocumentRecord
	if err := q.Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}

	var docs []*document.Document
	for i := range records {
		doc, err := toDocument(&records[i])
		if err != nil {
			return nil, err
		}
		if storage.Match(doc, rest) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func toRecord(resource string, doc *document.Document) (*DocumentRecord, error) {
	raw, err := document.MarshalCanonical(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("serializing document fields: %w", err)
	}
	return &DocumentRecord{
		ID:                 doc.ID,
		Resource:           resource,
		DocumentCreatedAt:  doc.Created,
		DocumentModifiedAt: doc.Updated,
		Version:            doc.Version,
		Fields:             JSON(raw),
	}, nil
}

func toDocument(rec *DocumentRecord) (*document.Document, error) {
	fields := map[string]any{}
	if len(rec.Fields) > 0 {
		if err := jsonUnmarshal([]byte(rec.Fields), &fields); err != nil {
			return nil, fmt.Errorf("deserializing document fields: %w", err)
		}
	}
	// Reserved keys that leaked into a stored field bag are lifted into
	// their typed slots rather than echoed as domain fields. The record
	// columns stay authoritative.
	doc, err := document.FromMap(fields)
	if err != nil {
		return nil, fmt.Errorf("deserializing document fields: %w", err)
	}
	doc.ID = rec.ID
	doc.Created = rec.DocumentCreatedAt
	doc.Updated = rec.DocumentModifiedAt
	doc.Version = rec.Version
	return doc, nil
}

func jsonUnmarshal(data []byte, v any) error {
	if string(data) == "null" {
		return nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, v)
}

type cursor struct {
	docs  []*document.Document
	count int
}

func (c *cursor) All() []*document.Document { return c.docs }
func (c *cursor) Count() int                { return c.count }

var errNilDB = errors.New("gormstore: nil database handle")

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() (*gorm.DB, error) {
	if s.db == nil {
		return nil, errNilDB
	}
	return s.db, nil
}
