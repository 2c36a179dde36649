package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLen       = 300
	MaxDescriptionLen = 5000
	MaxCommentLen     = 10000
)

// ValidateTitle validates a listing title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("title too long (max %d characters)", MaxTitleLen)
	}
	return nil
}

// ValidateDescription validates a listing description. Empty is allowed.
func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return fmt.Errorf("description too long (max %d characters)", MaxDescriptionLen)
	}
	return nil
}

// ValidateCommentContent validates comment text.
func ValidateCommentContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	if utf8.RuneCountInString(content) > MaxCommentLen {
		return fmt.Errorf("comment too long (max %d characters)", MaxCommentLen)
	}
	return nil
}

// ValidateImageCount checks an upload against a configured bound.
func ValidateImageCount(n, max int) error {
	if n > max {
		return fmt.Errorf("too many images (max %d)", max)
	}
	return nil
}
