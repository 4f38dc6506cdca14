package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // max encoded size of a text body
	MaxContentChars = 2000 // max character count
	MaxGroupName    = 128  // max group conversation name length
)

// ValidateContent checks that a text message body meets content requirements.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: content is empty", ErrInvalidArgument)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: content exceeds %d byte limit", ErrInvalidArgument, MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("%w: content exceeds %d character limit", ErrInvalidArgument, MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: content contains invalid UTF-8", ErrInvalidArgument)
	}
	return nil
}

// ValidateGroupName checks a group conversation name.
func ValidateGroupName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: group name is empty", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(name) > MaxGroupName {
		return fmt.Errorf("%w: group name exceeds %d character limit", ErrInvalidArgument, MaxGroupName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: group name contains invalid UTF-8", ErrInvalidArgument)
	}
	return nil
}
