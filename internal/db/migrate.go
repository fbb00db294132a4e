/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/models"
)

// Migrate applies schema migrations for all catalog tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.PendingUser{},
		&models.Show{},
		&models.Recording{},
		&models.WebhookSubscription{},
		&models.SongAdminMetadata{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// FTS5 needs the sqlite_fts5 build tag; without it search falls
		// back to LIKE over the same columns.
		if err := createRecordingFTS(db); err != nil {
			return nil
		}
	}

	return nil
}

// HasRecordingFTS reports whether the FTS5 index is present.
func HasRecordingFTS(db *gorm.DB) bool {
	if db.Dialector.Name() != "sqlite" {
		return false
	}
	var count int64
	err := db.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'recordings_fts'").
		Scan(&count).Error
	return err == nil && count > 0
}

// createRecordingFTS builds the FTS5 virtual table and the sync triggers
// over the recording text columns. The rowid of the content table is the
// implicit sqlite rowid, not the uuid primary key.
func createRecordingFTS(db *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS recordings_fts USING fts5(
			title,
			artist,
			genre,
			description,
			content=recordings,
			content_rowid=rowid
		)`,
		`CREATE TRIGGER IF NOT EXISTS recordings_ai AFTER INSERT ON recordings BEGIN
			INSERT INTO recordings_fts(rowid, title, artist, genre, description)
			VALUES (new.rowid, new.title, new.artist, new.genre, new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS recordings_ad AFTER DELETE ON recordings BEGIN
			INSERT INTO recordings_fts(recordings_fts, rowid, title, artist, genre, description)
			VALUES ('delete', old.rowid, old.title, old.artist, old.genre, old.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS recordings_au AFTER UPDATE ON recordings BEGIN
			INSERT INTO recordings_fts(recordings_fts, rowid, title, artist, genre, description)
			VALUES ('delete', old.rowid, old.title, old.artist, old.genre, old.description);
			INSERT INTO recordings_fts(rowid, title, artist, genre, description)
			VALUES (new.rowid, new.title, new.artist, new.genre, new.description);
		END`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
