package types

import "strings"

// MaxContentBytes bounds a single message or announcement
const MaxContentBytes = 65536

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// IsValidUserID reports whether id can address a user
func IsValidUserID(id int64) bool {
	return id > 0
}

func (i SendMessage) Validate() error {
	if !IsValidUserID(i.ReceiverID) {
		return ErrInvalidUserID
	}
	return validateContent(i.Content)
}

func (i SendTyping) Validate() error {
	if !IsValidUserID(i.ToUserID) {
		return ErrInvalidUserID
	}
	return nil
}

func (i MarkRead) Validate() error {
	if len(i.MessageIDs) == 0 {
		return ErrNoMessageIDs
	}
	if !IsValidUserID(i.SenderID) {
		return ErrInvalidUserID
	}
	return nil
}

func (i RequestOnlineStatus) Validate() error {
	if len(i.UserIDs) == 0 {
		return ErrNoUserIDs
	}
	for _, id := range i.UserIDs {
		if !IsValidUserID(id) {
			return ErrInvalidUserID
		}
	}
	return nil
}

func (i Broadcast) Validate() error {
	return validateContent(i.Content)
}
