package database

import (
	"database/sql"
	"fmt"
	stdlog "log"

	"github.com/username/kryptofolio/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens the cache database, ensures the schema exists and stores the
// handle in the package-level DB used by the rest of the application.
func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	logger.L.Info("Ensuring cache database schema", "databasePath", databasePath)
	if err := EnsureSchema(DB); err != nil {
		logger.L.Error("failed to create tables", "error", err)
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	logger.L.Info("Cache database tables ensured/created.")
}

// EnsureSchema creates the record tables and indexes if they do not exist
// and applies in-place column migrations. Trade and ledger records live in
// separate tables so each kind can evolve its own columns; both are keyed by
// the exchange reference id and indexed by timestamp for range queries.
func EnsureSchema(db *sql.DB) error {
	createTableStatement := `
	CREATE TABLE IF NOT EXISTS trades (
		refid TEXT PRIMARY KEY,
		data_json TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger (
		refid TEXT PRIMARY KEY,
		data_json TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS trades_timestamp_idx ON trades (timestamp);
	CREATE INDEX IF NOT EXISTS ledger_timestamp_idx ON ledger (timestamp);
	`

	if _, err := db.Exec(createTableStatement); err != nil {
		return fmt.Errorf("creating record tables: %w", err)
	}

	migrateRecordTables(db)
	return nil
}

// migrateRecordTables checks both record tables for columns added after the
// first release and alters them in place where missing.
func migrateRecordTables(db *sql.DB) {
	for _, table := range []string{"trades", "ledger"} {
		var tableName string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
		if err != nil {
			if err == sql.ErrNoRows {
				logger.L.Info("table does not exist, no migration needed", "table", table)
				continue
			}
			logger.L.Error("Error checking for table", "table", table, "error", err)
			continue
		}

		rows, err := db.Query("PRAGMA table_info(" + table + ")")
		if err != nil {
			logger.L.Error("Error querying table schema", "table", table, "error", err)
			continue
		}

		columnExists := make(map[string]bool)
		for rows.Next() {
			var cid, pk int
			var name, dataType string
			var notnullVal int
			var dfltValue interface{}
			if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
				logger.L.Error("Error scanning column info", "table", table, "error", err)
				break
			}
			columnExists[name] = true
		}
		if err := rows.Err(); err != nil {
			logger.L.Error("Error iterating over column info", "table", table, "error", err)
		}
		rows.Close()

		if _, ok := columnExists["fetched_at"]; !ok {
			_, err := db.Exec("ALTER TABLE " + table + " ADD COLUMN fetched_at INTEGER DEFAULT 0")
			if err != nil {
				logger.L.Error("Error adding 'fetched_at' column", "table", table, "error", err)
			} else {
				logger.L.Info("Added 'fetched_at' column", "table", table)
			}
		}
	}
}
