package validation

import (
	"errors"
	"fmt"

	"chatrelay/pkg/models"
)

// Rules holds the configurable envelope limits. Zero values fall back to
// the package defaults.
type Rules struct {
	MaxBodyLen     int
	MaxAttachments int
	MaxNameLen     int
}

var rules = Rules{MaxBodyLen: 8192, MaxAttachments: 10, MaxNameLen: 128}

// ErrInvalid is wrapped by every validation failure so callers can map
// them with errors.Is.
var ErrInvalid = errors.New("validation failed")

// SetRules installs limits from config at startup.
func SetRules(r Rules) {
	if r.MaxBodyLen > 0 {
		rules.MaxBodyLen = r.MaxBodyLen
	}
	if r.MaxAttachments > 0 {
		rules.MaxAttachments = r.MaxAttachments
	}
	if r.MaxNameLen > 0 {
		rules.MaxNameLen = r.MaxNameLen
	}
}

// ValidateAuthenticate checks the authenticate payload. A missing user id
// or display name rejects the handshake.
func ValidateAuthenticate(d models.AuthenticateData) error {
	if d.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if d.UserName == "" {
		return fmt.Errorf("%w: userName is required", ErrInvalid)
	}
	if len(d.UserName) > rules.MaxNameLen {
		return fmt.Errorf("%w: userName exceeds %d characters", ErrInvalid, rules.MaxNameLen)
	}
	return nil
}

// ValidateSend checks a send_message payload. The body may be empty only
// when attachments are present.
func ValidateSend(d models.SendMessageData) error {
	if d.ConversationID == "" {
		return fmt.Errorf("%w: conversationId is required", ErrInvalid)
	}
	if d.Message == "" && len(d.Attachments) == 0 {
		return fmt.Errorf("%w: message body or attachments required", ErrInvalid)
	}
	if len(d.Message) > rules.MaxBodyLen {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrInvalid, rules.MaxBodyLen)
	}
	if len(d.Attachments) > rules.MaxAttachments {
		return fmt.Errorf("%w: too many attachments (max %d)", ErrInvalid, rules.MaxAttachments)
	}
	for _, a := range d.Attachments {
		if a.URL == "" {
			return fmt.Errorf("%w: attachment url is required", ErrInvalid)
		}
	}
	return nil
}

// ValidateGroup checks group-creation parameters.
func ValidateGroup(creator, name string, participants []string) error {
	if creator == "" {
		return fmt.Errorf("%w: creator id is required", ErrInvalid)
	}
	if name == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalid)
	}
	if len(name) > rules.MaxNameLen {
		return fmt.Errorf("%w: group name exceeds %d characters", ErrInvalid, rules.MaxNameLen)
	}
	for _, p := range participants {
		if p == "" {
			return fmt.Errorf("%w: participant ids must be non-empty", ErrInvalid)
		}
	}
	return nil
}
