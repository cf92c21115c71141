// Package db opens the sqlite database that stores room history.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqlFiles embed.FS

var (
	db       *sql.DB
	dbErr    error
	dbCreate sync.Once
)

// GetDB opens the configured database once, creating it if needed.
func GetDB() *sql.DB {
	dbCreate.Do(func() {
		db, dbErr = Open(Path())
		if dbErr != nil {
			log.Fatalf("error getting db: %v", dbErr)
		}
	})
	return db
}

// Path returns the database file from the config, defaulting to the XDG data dir.
// Note: xdg.DataHome is ~/Library/Application Support on macOS
func Path() string {
	if p := viper.GetString("database.path"); p != "" {
		return p
	}
	return filepath.Join(xdg.DataHome, "jamsesh-server", "jamsesh-server.sqlite")
}

// Open opens the sqlite database at filePath, creating the file and tables if needed.
func Open(filePath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return nil, fmt.Errorf("error creating db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening db: %w", err)
	}
	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error pinging db: %w", err)
	}

	schema, _ := sqlFiles.ReadFile("schema.sql")
	if _, err = conn.Exec(string(schema)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return conn, nil
}
