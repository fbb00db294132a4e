package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tidecast/tidecast/internal/models"
)

func setupCatalog(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB
}

func seedRecording(t *testing.T, gormDB *gorm.DB, showID *string, title, genre string, createdAt time.Time) *models.Recording {
	t.Helper()
	rec := &models.Recording{
		ID:              uuid.NewString(),
		ShowID:          showID,
		SessionID:       uuid.NewString(),
		Title:           title,
		Genre:           genre,
		DurationSeconds: 120,
		FilePath:        "/recordings/" + uuid.NewString() + ".ogg",
	}
	if err := gormDB.Create(rec).Error; err != nil {
		t.Fatalf("create recording: %v", err)
	}
	// sqlite AutoMigrate keeps the insert time; override for filters.
	if err := gormDB.Model(rec).Update("created_at", createdAt).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	return rec
}

func TestListRecordings_FiltersAndPagination(t *testing.T) {
	gormDB := setupCatalog(t)

	show := &models.Show{ID: uuid.NewString(), ShowName: "morning-show"}
	if err := gormDB.Create(show).Error; err != nil {
		t.Fatalf("create show: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRecording(t, gormDB, &show.ID, "Sunrise Set", "house", base)
	seedRecording(t, gormDB, &show.ID, "Second Set", "techno", base.Add(24*time.Hour))
	seedRecording(t, gormDB, nil, "Stray Session", "house", base.Add(48*time.Hour))

	recs, total, err := ListRecordings(gormDB, RecordingFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListRecordings: %v", err)
	}
	if total != 3 || len(recs) != 3 {
		t.Fatalf("expected 3 recordings, got total=%d len=%d", total, len(recs))
	}
	// Newest first.
	if recs[0].Title != "Stray Session" {
		t.Errorf("expected newest first, got %q", recs[0].Title)
	}

	recs, total, err = ListRecordings(gormDB, RecordingFilter{ShowName: "morning-show", Limit: 10})
	if err != nil {
		t.Fatalf("filter by show: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 show recordings, got %d", total)
	}
	for _, rec := range recs {
		if rec.Show == nil || rec.Show.ShowName != "morning-show" {
			t.Errorf("expected show preloaded, got %+v", rec.Show)
		}
	}

	_, total, err = ListRecordings(gormDB, RecordingFilter{Genre: "house", Limit: 10})
	if err != nil {
		t.Fatalf("filter by genre: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 house recordings, got %d", total)
	}

	from := base.Add(12 * time.Hour)
	_, total, err = ListRecordings(gormDB, RecordingFilter{DateFrom: &from, Limit: 10})
	if err != nil {
		t.Fatalf("filter by date: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 recordings after cutoff, got %d", total)
	}

	page1, total, err := ListRecordings(gormDB, RecordingFilter{Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	page2, _, err := ListRecordings(gormDB, RecordingFilter{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if total != 3 || len(page1) != 2 || len(page2) != 1 {
		t.Errorf("pagination off: total=%d page1=%d page2=%d", total, len(page1), len(page2))
	}
}

func TestListRecordings_Search(t *testing.T) {
	gormDB := setupCatalog(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRecording(t, gormDB, nil, "Night Session", "house", base)
	seedRecording(t, gormDB, nil, "Daytime Mix", "pop", base)

	recs, total, err := ListRecordings(gormDB, RecordingFilter{Search: "Night", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(recs) != 1 || recs[0].Title != "Night Session" {
		t.Fatalf("unexpected search result: total=%d recs=%+v", total, recs)
	}

	_, total, err = ListRecordings(gormDB, RecordingFilter{Search: "nothing-matches", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 0 {
		t.Errorf("expected no matches, got %d", total)
	}
}

func TestGetDeleteRecording(t *testing.T) {
	gormDB := setupCatalog(t)
	rec := seedRecording(t, gormDB, nil, "Removable", "house", time.Now())

	got, err := GetRecording(gormDB, rec.ID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("unexpected recording %+v", got)
	}

	if err := DeleteRecording(gormDB, got); err != nil {
		t.Fatalf("DeleteRecording: %v", err)
	}
	if _, err := GetRecording(gormDB, rec.ID); err == nil {
		t.Fatal("expected lookup to fail after delete")
	}
}
