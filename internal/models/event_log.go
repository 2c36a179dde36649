package models

import "time"

// Audit actions recorded in the event log.
const (
	ActionPostCreated    = "post_created"
	ActionPostUpdated    = "post_updated"
	ActionPostDeleted    = "post_deleted"
	ActionCommentCreated = "comment_created"
	ActionCommentUpdated = "comment_updated"
	ActionCommentDeleted = "comment_deleted"
)

// EventLog is one row of the audit trail, e.g. "User 7 created Post 12".
type EventLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"size:64;not null;index" json:"action"`
	ActorID   uint      `gorm:"not null;index" json:"actorId"`
	PostID    uint      `gorm:"index" json:"postId"`
	CommentID *uint     `json:"commentId,omitempty"`
	Message   string    `gorm:"size:512;not null" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// TableName pins the table name used by the SQL migrations.
func (EventLog) TableName() string {
	return "logs"
}
