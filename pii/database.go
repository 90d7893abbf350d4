package pii

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hannes/safeshare/config"
	pii "github.com/hannes/safeshare/pii/detectors"
	_ "github.com/lib/pq"
	bolt "go.etcd.io/bbolt"
)

// StoredScan is the persisted outcome of one image scan. Descriptions and
// feed text are not stored; they may contain the PII being redacted.
type StoredScan struct {
	ImageURI    string        `json:"imageUri"`
	Fingerprint string        `json:"fingerprint"` // sha256 of the image bytes
	Result      pii.PIIResult `json:"result"`
	Regions     []pii.Region  `json:"regions"`
	ScannedAt   time.Time     `json:"scannedAt"`
}

// ScanResultDB defines the interface for scan result persistence
type ScanResultDB interface {
	// StoreScan inserts or replaces the scan for scan.ImageURI
	StoreScan(ctx context.Context, scan StoredScan) error

	// GetScan retrieves the scan for an image
	GetScan(ctx context.Context, imageURI string) (StoredScan, bool, error)

	// DeleteScan removes the scan for an image
	DeleteScan(ctx context.Context, imageURI string) error

	// CleanupOldScans removes scans older than specified duration
	CleanupOldScans(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close closes the database connection
	Close() error
}

// NewScanResultDB opens the store selected by cfg.Driver
func NewScanResultDB(ctx context.Context, cfg config.DatabaseConfig) (ScanResultDB, error) {
	switch cfg.Driver {
	case "postgres", "mysql":
		return NewSQLScanResultDB(ctx, cfg)
	case "bolt", "":
		return NewBoltScanResultDB(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unsupported database driver '%s'", cfg.Driver)
	}
}

// --- SQL ------------------------------------------------------------------

// SQLScanResultDB implements ScanResultDB for PostgreSQL and MySQL
type SQLScanResultDB struct {
	db     *sql.DB
	driver string
}

// NewSQLScanResultDB creates a SQL scan result database from cfg
func NewSQLScanResultDB(ctx context.Context, cfg config.DatabaseConfig) (*SQLScanResultDB, error) {
	db, err := OpenSQLScanResultDB(ctx, cfg.Driver, dataSourceName(cfg))
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	return db, nil
}

// OpenSQLScanResultDB connects with an explicit driver and DSN and makes
// sure the table exists.
func OpenSQLScanResultDB(ctx context.Context, driver, dsn string) (*SQLScanResultDB, error) {
	if driver != "postgres" && driver != "mysql" {
		return nil, fmt.Errorf("unsupported SQL driver '%s'", driver)
	}

	// Open database connection
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLScanResultDB{db: db, driver: driver}
	if err := s.createTableIfNotExists(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func dataSourceName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "mysql" {
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)
}

// createTableIfNotExists creates the scan_results table if it doesn't exist
func (s *SQLScanResultDB) createTableIfNotExists(ctx context.Context) error {
	var statements []string
	if s.driver == "mysql" {
		statements = []string{`
		CREATE TABLE IF NOT EXISTS scan_results (
			image_uri VARCHAR(768) NOT NULL PRIMARY KEY,
			fingerprint CHAR(64) NOT NULL DEFAULT '',
			has_pii BOOLEAN NOT NULL,
			confidence VARCHAR(16) NOT NULL,
			types TEXT NOT NULL,
			regions TEXT NOT NULL,
			scanned_at DATETIME(6) NOT NULL,
			INDEX idx_scan_results_scanned_at (scanned_at)
		)`}
	} else {
		statements = []string{`
		CREATE TABLE IF NOT EXISTS scan_results (
			image_uri TEXT PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL DEFAULT '',
			has_pii BOOLEAN NOT NULL,
			confidence VARCHAR(16) NOT NULL,
			types TEXT NOT NULL,
			regions TEXT NOT NULL,
			scanned_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
			`CREATE INDEX IF NOT EXISTS idx_scan_results_scanned_at ON scan_results(scanned_at)`,
			`ALTER TABLE scan_results ADD COLUMN IF NOT EXISTS fingerprint VARCHAR(64) NOT NULL DEFAULT ''`,
		}
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// bind rewrites ? placeholders to $n for postgres
func (s *SQLScanResultDB) bind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// StoreScan inserts or replaces a scan
func (s *SQLScanResultDB) StoreScan(ctx context.Context, scan StoredScan) error {
	types, err := json.Marshal(scan.Result.Types)
	if err != nil {
		return fmt.Errorf("failed to encode types: %w", err)
	}
	regions, err := json.Marshal(scan.Regions)
	if err != nil {
		return fmt.Errorf("failed to encode regions: %w", err)
	}

	query := `
	INSERT INTO scan_results (image_uri, fingerprint, has_pii, confidence, types, regions, scanned_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if s.driver == "mysql" {
		query += `ON DUPLICATE KEY UPDATE
		fingerprint = VALUES(fingerprint),
		has_pii = VALUES(has_pii),
		confidence = VALUES(confidence),
		types = VALUES(types),
		regions = VALUES(regions),
		scanned_at = VALUES(scanned_at)`
	} else {
		query += `ON CONFLICT (image_uri)
	DO UPDATE SET
		fingerprint = EXCLUDED.fingerprint,
		has_pii = EXCLUDED.has_pii,
		confidence = EXCLUDED.confidence,
		types = EXCLUDED.types,
		regions = EXCLUDED.regions,
		scanned_at = EXCLUDED.scanned_at`
	}

	_, err = s.db.ExecContext(ctx, s.bind(query),
		scan.ImageURI, scan.Fingerprint, scan.Result.HasPII, string(scan.Result.Confidence), string(types), string(regions), scan.ScannedAt.UTC())
	return err
}

// GetScan retrieves the scan for an image
func (s *SQLScanResultDB) GetScan(ctx context.Context, imageURI string) (StoredScan, bool, error) {
	query := `
	SELECT fingerprint, has_pii, confidence, types, regions, scanned_at FROM scan_results
	WHERE image_uri = ?
	`

	var (
		fingerprint string
		hasPII      bool
		confidence  string
		types       string
		regions     string
		scannedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx, s.bind(query), imageURI).Scan(&fingerprint, &hasPII, &confidence, &types, &regions, &scannedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return StoredScan{}, false, nil
		}
		return StoredScan{}, false, err
	}

	scan := StoredScan{ImageURI: imageURI, Fingerprint: fingerprint, ScannedAt: scannedAt}
	scan.Result = pii.PIIResult{HasPII: hasPII, Confidence: pii.Confidence(confidence)}
	if err := json.Unmarshal([]byte(types), &scan.Result.Types); err != nil {
		return StoredScan{}, false, fmt.Errorf("failed to decode types: %w", err)
	}
	if err := json.Unmarshal([]byte(regions), &scan.Regions); err != nil {
		return StoredScan{}, false, fmt.Errorf("failed to decode regions: %w", err)
	}
	scan.Result.Count = len(scan.Result.Types)
	return scan, true, nil
}

// DeleteScan removes the scan for an image
func (s *SQLScanResultDB) DeleteScan(ctx context.Context, imageURI string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM scan_results WHERE image_uri = ?`), imageURI)
	return err
}

// CleanupOldScans removes scans older than specified duration
func (s *SQLScanResultDB) CleanupOldScans(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM scan_results WHERE scanned_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (s *SQLScanResultDB) Close() error {
	return s.db.Close()
}

// --- bbolt ----------------------------------------------------------------

const scanBucket = "scan_results"

// BoltScanResultDB implements ScanResultDB on an embedded bbolt file.
// Values are JSON-encoded StoredScan records keyed by image URI.
type BoltScanResultDB struct {
	db *bolt.DB
}

// NewBoltScanResultDB opens (or creates) the bbolt database at path
func NewBoltScanResultDB(path string) (*BoltScanResultDB, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt database path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt database %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(scanBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Printf("[Database] Scan results stored at %s", path)
	return &BoltScanResultDB{db: db}, nil
}

// StoreScan inserts or replaces a scan
func (b *BoltScanResultDB) StoreScan(ctx context.Context, scan StoredScan) error {
	data, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("failed to encode scan: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(scanBucket)).Put([]byte(scan.ImageURI), data)
	})
}

// GetScan retrieves the scan for an image
func (b *BoltScanResultDB) GetScan(ctx context.Context, imageURI string) (StoredScan, bool, error) {
	var scan StoredScan
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(scanBucket)).Get([]byte(imageURI))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &scan)
	})
	if err != nil {
		return StoredScan{}, false, fmt.Errorf("failed to read scan: %w", err)
	}
	return scan, found, nil
}

// DeleteScan removes the scan for an image
func (b *BoltScanResultDB) DeleteScan(ctx context.Context, imageURI string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(scanBucket)).Delete([]byte(imageURI))
	})
}

// CleanupOldScans removes scans older than specified duration
func (b *BoltScanResultDB) CleanupOldScans(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var removed int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucket))
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var scan StoredScan
			if err := json.Unmarshal(v, &scan); err != nil || scan.ScannedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = int64(len(stale))
		return nil
	})
	return removed, err
}

// Close closes the database file
func (b *BoltScanResultDB) Close() error {
	return b.db.Close()
}

// --- in-memory ------------------------------------------------------------

// InMemoryScanResultDB implements ScanResultDB for in-memory storage (fallback)
type InMemoryScanResultDB struct {
	mu    sync.RWMutex
	scans map[string]StoredScan
}

// NewInMemoryScanResultDB creates a new in-memory scan result database
func NewInMemoryScanResultDB() *InMemoryScanResultDB {
	return &InMemoryScanResultDB{scans: make(map[string]StoredScan)}
}

// StoreScan stores a scan in memory
func (m *InMemoryScanResultDB) StoreScan(ctx context.Context, scan StoredScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[scan.ImageURI] = scan
	return nil
}

// GetScan retrieves the scan for an image
func (m *InMemoryScanResultDB) GetScan(ctx context.Context, imageURI string) (StoredScan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scan, exists := m.scans[imageURI]
	return scan, exists, nil
}

// DeleteScan removes a scan from memory
func (m *InMemoryScanResultDB) DeleteScan(ctx context.Context, imageURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scans, imageURI)
	return nil
}

// CleanupOldScans removes scans older than specified duration
func (m *InMemoryScanResultDB) CleanupOldScans(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var removed int64
	for uri, scan := range m.scans {
		if scan.ScannedAt.Before(cutoff) {
			delete(m.scans, uri)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for in-memory storage
func (m *InMemoryScanResultDB) Close() error {
	return nil
}
