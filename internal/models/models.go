package models

import "time"

// User represents a registered account. Account management (registration,
// login) lives outside the control plane; the catalog only persists rows.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingUser holds an unconfirmed registration keyed by its one-time token.
type PendingUser struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string
	Password  string
	Token     string `gorm:"uniqueIndex"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Show groups recordings under a broadcaster-facing name.
type Show struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ShowName    string `gorm:"uniqueIndex"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Recording is an archived live session.
type Recording struct {
	ID              string  `gorm:"type:uuid;primaryKey" json:"id"`
	ShowID          *string `gorm:"type:uuid;index" json:"show_id,omitempty"`
	SessionID       string  `gorm:"type:uuid;index" json:"session_id"`
	Title           string  `json:"title,omitempty"`
	Artist          string  `json:"artist,omitempty"`
	Genre           string  `gorm:"index" json:"genre,omitempty"`
	Description     string  `gorm:"type:text" json:"description,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	FilePath        string  `gorm:"uniqueIndex" json:"-"`

	Show *Show `gorm:"foreignKey:ShowID" json:"show,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the table name for GORM.
func (Recording) TableName() string {
	return "recordings"
}

// SongAdminMetadata records provenance for songs admitted by admins,
// which bypass the per-user quota tracking in the state store.
type SongAdminMetadata struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SongID    string `gorm:"index"`
	Queue     string `gorm:"type:varchar(16)"`
	Title     string
	Artist    string
	AddedBy   string
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (SongAdminMetadata) TableName() string {
	return "songs_admin_metadata"
}
