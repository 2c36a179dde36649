// Package models contains data structures for the marketplace domain.
package models

import (
	"fmt"
	"time"
)

// Post is a marketplace listing. Its photos live on disk under a directory
// derived from (UserID, ID); PhotoCount mirrors the number of files there.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"userId"`
	Title       string    `gorm:"size:300;not null" json:"title"`
	Description string    `gorm:"type:text;not null;default:''" json:"description"`
	PhotoCount  int       `gorm:"not null;default:0" json:"photoCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName pins the table name used by the SQL migrations.
func (Post) TableName() string {
	return "posts"
}

// PostSummary is the landing-page projection of a Post.
type PostSummary struct {
	ID           uint   `json:"id"`
	UserID       uint   `json:"userId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PhotoCount   int    `json:"photoCount"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Summary projects the post for list responses.
func (p *Post) Summary() PostSummary {
	s := PostSummary{
		ID:          p.ID,
		UserID:      p.UserID,
		Title:       p.Title,
		Description: p.Description,
		PhotoCount:  p.PhotoCount,
	}
	if p.PhotoCount > 0 {
		s.ThumbnailURL = fmt.Sprintf("/api/Image/GetSingleThumbNail?postId=%d", p.ID)
	}
	return s
}
