// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database owns the faucet's persistent state: request rows in a
// SQLite relational store and small counters (quota) in a Badger KV
// store. Both stores run in-memory when no data directory is configured,
// which is used for testing.
package database

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Config struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	DataDir      string
}

type Database struct {
	config Config
	logger *slog.Logger
	db     *gorm.DB
	kv     *badger.DB
}

// New creates a database instance with optional persistence using the
// provided data directory
func New(cfg Config) (*Database, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	d := &Database{
		config: cfg,
		logger: cfg.Logger.With("component", "database"),
	}
	if cfg.DataDir != "" {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
	}
	if err := d.openRelational(); err != nil {
		return nil, err
	}
	if err := d.openKV(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) openRelational() error {
	var requestDb *gorm.DB
	var err error
	if d.config.DataDir == "" {
		// In-memory database, useful for testing
		// cache=shared allows multiple connections to share the same in-memory database
		requestDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
	} else {
		dbPath := filepath.Join(d.config.DataDir, "faucet.sqlite")
		// WAL journal mode, disable sync on write
		connOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		requestDb, err = gorm.Open(
			sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
	}
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := requestDb.Use(
		tracing.NewPlugin(tracing.WithoutMetrics()),
	); err != nil {
		return fmt.Errorf("failed to configure tracing plugin: %w", err)
	}
	if err := requestDb.AutoMigrate(&Request{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	d.db = requestDb
	return nil
}

func (d *Database) openKV() error {
	var badgerOpts badger.Options
	if d.config.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(
			filepath.Join(d.config.DataDir, "kv"),
		)
	}
	badgerOpts = badgerOpts.
		WithLogger(newBadgerLogger(d.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	kvDb, err := badger.Open(badgerOpts)
	if err != nil {
		return fmt.Errorf("failed to open badger: %w", err)
	}
	d.kv = kvDb
	return nil
}

// KV returns the underlying key-value store instance
func (d *Database) KV() *badger.DB {
	return d.kv
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.config.DataDir
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if d.db != nil {
		if sqlDb, dbErr := d.db.DB(); dbErr == nil {
			err = errors.Join(err, sqlDb.Close())
		}
	}
	if d.kv != nil {
		err = errors.Join(err, d.kv.Close())
	}
	return err
}

// badgerLogger adapts our slog logger to the badger.Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Info(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}
