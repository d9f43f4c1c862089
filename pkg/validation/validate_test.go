package validation

import (
	"errors"
	"strings"
	"testing"

	"chatrelay/pkg/models"
)

func TestValidateAuthenticate(t *testing.T) {
	if err := ValidateAuthenticate(models.AuthenticateData{UserID: "u1", UserName: "Alice"}); err != nil {
		t.Fatalf("valid handshake rejected: %v", err)
	}
	if err := ValidateAuthenticate(models.AuthenticateData{UserName: "Alice"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing id, got %v", err)
	}
	if err := ValidateAuthenticate(models.AuthenticateData{UserID: "u1"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing name, got %v", err)
	}
}

func TestValidateSend(t *testing.T) {
	if err := ValidateSend(models.SendMessageData{ConversationID: "c1", Message: "hi"}); err != nil {
		t.Fatalf("valid send rejected: %v", err)
	}
	if err := ValidateSend(models.SendMessageData{Message: "hi"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing conversation, got %v", err)
	}
	// empty body is fine as long as attachments exist
	err := ValidateSend(models.SendMessageData{
		ConversationID: "c1",
		Attachments:    []models.Attachment{{URL: "https://x/f.png"}},
	})
	if err != nil {
		t.Fatalf("attachment-only send rejected: %v", err)
	}
	err = ValidateSend(models.SendMessageData{ConversationID: "c1"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty send, got %v", err)
	}
	err = ValidateSend(models.SendMessageData{
		ConversationID: "c1",
		Attachments:    []models.Attachment{{Name: "f"}},
	})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for attachment without url, got %v", err)
	}
}

func TestConfiguredLimits(t *testing.T) {
	SetRules(Rules{MaxBodyLen: 10})
	defer SetRules(Rules{MaxBodyLen: 8192})

	err := ValidateSend(models.SendMessageData{ConversationID: "c1", Message: strings.Repeat("a", 11)})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for oversized body, got %v", err)
	}
	if err := ValidateSend(models.SendMessageData{ConversationID: "c1", Message: "short"}); err != nil {
		t.Fatalf("short body rejected: %v", err)
	}
}

func TestValidateGroup(t *testing.T) {
	if err := ValidateGroup("alice", "eng", []string{"bob"}); err != nil {
		t.Fatalf("valid group rejected: %v", err)
	}
	if err := ValidateGroup("", "eng", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing creator, got %v", err)
	}
	if err := ValidateGroup("alice", "", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing name, got %v", err)
	}
	if err := ValidateGroup("alice", "eng", []string{""}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty participant, got %v", err)
	}
}
