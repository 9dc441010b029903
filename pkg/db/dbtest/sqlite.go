// Package dbtest opens isolated in-memory SQLite databases carrying the
// production table layout for repository and service tests.
package dbtest

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const schema = `
CREATE TABLE super_admins (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  last_login_at DATETIME,
  created_at DATETIME
);
CREATE TABLE resellers (
  id TEXT PRIMARY KEY,
  business_name TEXT NOT NULL,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  phone TEXT,
  total_licenses INTEGER NOT NULL DEFAULT 0,
  is_active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE licenses (
  id TEXT PRIMARY KEY,
  license_key TEXT NOT NULL UNIQUE,
  reseller_id TEXT NOT NULL REFERENCES resellers(id),
  status TEXT NOT NULL DEFAULT 'AVAILABLE',
  device_imei TEXT,
  activated_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK ((status = 'AVAILABLE' AND device_imei IS NULL) OR (status IN ('IN_USE', 'BOUND') AND device_imei IS NOT NULL))
);
CREATE TABLE devices (
  id TEXT PRIMARY KEY,
  imei TEXT NOT NULL UNIQUE,
  reseller_id TEXT NOT NULL REFERENCES resellers(id),
  license_id TEXT REFERENCES licenses(id),
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  is_online BOOLEAN NOT NULL DEFAULT 0,
  last_connection DATETIME,
  last_location_lat REAL,
  last_location_lon REAL,
  battery_level INTEGER,
  network_type TEXT,
  client_name TEXT,
  client_phone TEXT,
  enrolled_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE enrollment_tokens (
  id TEXT PRIMARY KEY,
  token TEXT NOT NULL UNIQUE,
  reseller_id TEXT NOT NULL REFERENCES resellers(id),
  license_id TEXT NOT NULL REFERENCES licenses(id),
  expires_at DATETIME NOT NULL,
  is_used BOOLEAN NOT NULL DEFAULT 0,
  used_at DATETIME,
  created_at DATETIME
);
CREATE TABLE pending_commands (
  id TEXT PRIMARY KEY,
  device_id TEXT NOT NULL REFERENCES devices(id),
  command_type TEXT NOT NULL,
  command_data JSON,
  status TEXT NOT NULL DEFAULT 'PENDING',
  created_at DATETIME,
  sent_at DATETIME
);
CREATE TABLE location_history (
  id TEXT PRIMARY KEY,
  device_id TEXT NOT NULL REFERENCES devices(id),
  latitude REAL NOT NULL,
  longitude REAL NOT NULL,
  battery_level INTEGER,
  network_type TEXT,
  recorded_at DATETIME NOT NULL
);
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload JSON NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json JSON NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);
CREATE UNIQUE INDEX idx_outbox_dlq_event_id ON outbox_dlq (event_id);
`

// Open returns a fresh database private to the calling test. The pool is
// pinned to a single connection so concurrent transactions queue behind one
// another the way row locks serialize them in Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { closeQuietly(sqlDB) })

	if err := conn.Exec(schema).Error; err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}
