package pii

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	pii "github.com/hannes/safeshare/pii/detectors"
)

func sampleScan(uri string, at time.Time) StoredScan {
	return StoredScan{
		ImageURI:    uri,
		Fingerprint: "5f70bf18a086007016e948b04aed3b82103a36bea41755b6cddfaf10ace3c6ef",
		Result:      pii.PIIResult{HasPII: true, Confidence: pii.ConfidenceHigh, Types: []string{"ssn", "face"}, Count: 2},
		Regions: []pii.Region{
			{Type: "ssn", X: 0.15, Y: 0.25, Width: 0.7, Height: 0.2},
			{Type: "face", X: 0, Y: 0, Width: 0.5, Height: 0.5},
		},
		ScannedAt: at.UTC().Truncate(time.Microsecond),
	}
}

// exerciseScanResultDB runs the shared contract against any implementation
func exerciseScanResultDB(t *testing.T, db ScanResultDB) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	if _, ok, err := db.GetScan(ctx, "file:///missing.png"); err != nil || ok {
		t.Fatalf("GetScan(missing) = %v, %v", ok, err)
	}

	scan := sampleScan("file:///a.png", now)
	if err := db.StoreScan(ctx, scan); err != nil {
		t.Fatalf("StoreScan() error = %v", err)
	}
	got, ok, err := db.GetScan(ctx, scan.ImageURI)
	if err != nil || !ok {
		t.Fatalf("GetScan() = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(got.Result, scan.Result) || !reflect.DeepEqual(got.Regions, scan.Regions) {
		t.Errorf("GetScan() = %+v, want %+v", got, scan)
	}
	if got.Fingerprint != scan.Fingerprint {
		t.Errorf("Fingerprint = %q, want %q", got.Fingerprint, scan.Fingerprint)
	}
	if !got.ScannedAt.Equal(scan.ScannedAt) {
		t.Errorf("ScannedAt = %v, want %v", got.ScannedAt, scan.ScannedAt)
	}

	// upsert replaces the previous result
	replacement := scan
	replacement.Fingerprint = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	replacement.Result = pii.NoPIIResult(pii.ConfidenceMedium)
	replacement.Regions = []pii.Region{}
	if err := db.StoreScan(ctx, replacement); err != nil {
		t.Fatalf("StoreScan(replacement) error = %v", err)
	}
	got, _, _ = db.GetScan(ctx, scan.ImageURI)
	if got.Result.HasPII || len(got.Result.Types) != 0 || got.Fingerprint != replacement.Fingerprint {
		t.Errorf("replacement not stored: %+v", got.Result)
	}

	old := sampleScan("file:///old.png", now.Add(-48*time.Hour))
	if err := db.StoreScan(ctx, old); err != nil {
		t.Fatal(err)
	}
	removed, err := db.CleanupOldScans(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldScans() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("CleanupOldScans() removed %d, want 1", removed)
	}
	if _, ok, _ := db.GetScan(ctx, old.ImageURI); ok {
		t.Error("old scan should be gone")
	}

	if err := db.DeleteScan(ctx, scan.ImageURI); err != nil {
		t.Fatalf("DeleteScan() error = %v", err)
	}
	if _, ok, _ := db.GetScan(ctx, scan.ImageURI); ok {
		t.Error("deleted scan should be gone")
	}
}

func TestInMemoryScanResultDB(t *testing.T) {
	exerciseScanResultDB(t, NewInMemoryScanResultDB())
}

func TestBoltScanResultDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "scans.db")
	db, err := NewBoltScanResultDB(path)
	if err != nil {
		t.Fatalf("NewBoltScanResultDB() error = %v", err)
	}
	defer db.Close()

	exerciseScanResultDB(t, db)
}

func TestBoltScanResultDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.db")
	db, err := NewBoltScanResultDB(path)
	if err != nil {
		t.Fatal(err)
	}
	scan := sampleScan("file:///keep.png", time.Now())
	if err := db.StoreScan(context.Background(), scan); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBoltScanResultDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, ok, err := reopened.GetScan(context.Background(), scan.ImageURI); err != nil || !ok {
		t.Errorf("scan should survive reopen: %v, %v", ok, err)
	}
}

func TestNewBoltScanResultDB_EmptyPath(t *testing.T) {
	if _, err := NewBoltScanResultDB(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// SQL stores run only when a DSN is provided, e.g.
// SAFESHARE_TEST_POSTGRES_DSN="host=localhost user=postgres dbname=test sslmode=disable"
// SAFESHARE_TEST_MYSQL_DSN="root:pw@tcp(localhost:3306)/test?parseTime=true"
func TestSQLScanResultDB(t *testing.T) {
	for _, tc := range []struct{ driver, env string }{
		{"postgres", "SAFESHARE_TEST_POSTGRES_DSN"},
		{"mysql", "SAFESHARE_TEST_MYSQL_DSN"},
	} {
		t.Run(tc.driver, func(t *testing.T) {
			dsn := os.Getenv(tc.env)
			if dsn == "" {
				t.Skipf("%s not set", tc.env)
			}
			db, err := OpenSQLScanResultDB(context.Background(), tc.driver, dsn)
			if err != nil {
				t.Fatalf("OpenSQLScanResultDB() error = %v", err)
			}
			defer db.Close()
			_ = db.DeleteScan(context.Background(), "file:///a.png")
			_ = db.DeleteScan(context.Background(), "file:///old.png")

			exerciseScanResultDB(t, db)
		})
	}
}

func TestSQLScanResultDB_Bind(t *testing.T) {
	pg := &SQLScanResultDB{driver: "postgres"}
	if got := pg.bind("SELECT a FROM t WHERE b = ? AND c < ?"); got != "SELECT a FROM t WHERE b = $1 AND c < $2" {
		t.Errorf("bind(postgres) = %q", got)
	}
	my := &SQLScanResultDB{driver: "mysql"}
	if got := my.bind("WHERE b = ?"); got != "WHERE b = ?" {
		t.Errorf("bind(mysql) = %q", got)
	}
}

func TestOpenSQLScanResultDB_UnsupportedDriver(t *testing.T) {
	if _, err := OpenSQLScanResultDB(context.Background(), "sqlite", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

type failingDB struct {
	*InMemoryScanResultDB
}

func (f *failingDB) StoreScan(ctx context.Context, scan StoredScan) error {
	return errors.New("disk full")
}

func (f *failingDB) GetScan(ctx context.Context, imageURI string) (StoredScan, bool, error) {
	return StoredScan{}, false, errors.New("connection lost")
}

func TestResultCache(t *testing.T) {
	ctx := context.Background()
	db := NewInMemoryScanResultDB()
	cache := NewResultCache(db, true, true)

	scan := sampleScan("file:///a.png", time.Now())
	cache.Put(ctx, scan)
	if got, ok := cache.Get(ctx, scan.ImageURI); !ok || got.Result.Count != 2 {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	if _, ok, _ := db.GetScan(ctx, scan.ImageURI); !ok {
		t.Error("Put should write through to the database")
	}

	// a fresh cache restores from the database
	fresh := NewResultCache(db, true, false)
	if _, ok := fresh.Get(ctx, scan.ImageURI); !ok {
		t.Error("Get should fall back to the database")
	}

	cache.Delete(ctx, scan.ImageURI)
	if _, ok := cache.Get(ctx, scan.ImageURI); ok {
		t.Error("Delete should remove from cache and database")
	}
}

func TestResultCache_DegradesOnDBErrors(t *testing.T) {
	ctx := context.Background()
	cache := NewResultCache(&failingDB{InMemoryScanResultDB: NewInMemoryScanResultDB()}, true, false)

	scan := sampleScan("file:///a.png", time.Now())
	cache.Put(ctx, scan)
	if _, ok := cache.Get(ctx, scan.ImageURI); !ok {
		t.Error("cache should keep serving when the database fails")
	}
	if _, ok := cache.Get(ctx, "file:///other.png"); ok {
		t.Error("database read failure should report a miss")
	}
}

func TestResultCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	cache := NewResultCache(nil, false, false)
	cache.Put(ctx, sampleScan("file:///new.png", time.Now()))
	cache.Put(ctx, sampleScan("file:///old.png", time.Now().Add(-72*time.Hour)))

	if removed := cache.Cleanup(ctx, 24*time.Hour); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, ok := cache.Get(ctx, "file:///new.png"); !ok {
		t.Error("recent scan should remain")
	}
}
