/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/models"
)

// RecordingFilter narrows a recording listing.
type RecordingFilter struct {
	ShowName string
	Search   string
	Genre    string
	DateFrom *time.Time
	DateTo   *time.Time
	Offset   int
	Limit    int
}

// ListRecordings returns a page of recordings plus the unpaged total.
// On sqlite the Search term goes through the FTS5 index; other backends
// fall back to LIKE over the same text columns.
func ListRecordings(db *gorm.DB, filter RecordingFilter) ([]models.Recording, int64, error) {
	query := db.Model(&models.Recording{}).Preload("Show")

	if filter.ShowName != "" {
		query = query.Joins("JOIN shows ON shows.id = recordings.show_id").
			Where("shows.show_name = ?", filter.ShowName)
	}

	if filter.Genre != "" {
		query = query.Where("recordings.genre = ?", filter.Genre)
	}

	if filter.DateFrom != nil {
		query = query.Where("recordings.created_at >= ?", *filter.DateFrom)
	}

	if filter.DateTo != nil {
		query = query.Where("recordings.created_at <= ?", *filter.DateTo)
	}

	if filter.Search != "" {
		if HasRecordingFTS(db) {
			query = query.Where(
				"recordings.rowid IN (SELECT rowid FROM recordings_fts WHERE recordings_fts MATCH ?)",
				ftsQuery(filter.Search),
			)
		} else {
			like := "%" + filter.Search + "%"
			query = query.Where(
				"recordings.title LIKE ? OR recordings.artist LIKE ? OR recordings.genre LIKE ? OR recordings.description LIKE ?",
				like, like, like, like,
			)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count recordings: %w", err)
	}

	var recordings []models.Recording
	if err := query.
		Order("recordings.created_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&recordings).Error; err != nil {
		return nil, 0, fmt.Errorf("list recordings: %w", err)
	}

	return recordings, total, nil
}

// ftsQuery quotes each whitespace token so user input cannot inject FTS5
// query syntax.
func ftsQuery(search string) string {
	fields := strings.Fields(search)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

// GetRecording fetches one recording by ID.
func GetRecording(db *gorm.DB, id string) (*models.Recording, error) {
	var rec models.Recording
	if err := db.Preload("Show").First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecording removes the catalog row.
func DeleteRecording(db *gorm.DB, rec *models.Recording) error {
	return db.Delete(rec).Error
}
