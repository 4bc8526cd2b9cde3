package store

import (
	"fmt"
	"strings"
	"time"
)

// Application identifies a supported chat application. The enum name is
// stored in the database.
type Application string

const (
	AppWhatsApp Application = "WHATSAPP"
	AppTelegram Application = "TELEGRAM"
	AppSignal   Application = "SIGNAL"
)

// ParseApplication maps a user-supplied name (case-insensitive, enum name
// or display name) to an Application.
func ParseApplication(s string) (Application, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WHATSAPP":
		return AppWhatsApp, nil
	case "TELEGRAM":
		return AppTelegram, nil
	case "SIGNAL":
		return AppSignal, nil
	}
	return "", fmt.Errorf("unknown application %q (expected whatsapp, telegram or signal)", s)
}

// DisplayName returns the human-readable name of the application.
func (a Application) DisplayName() string {
	switch a {
	case AppWhatsApp:
		return "WhatsApp"
	case AppTelegram:
		return "Telegram"
	case AppSignal:
		return "Signal"
	}
	return string(a)
}

// TimestampLayout is the storage format for message timestamps. Chat
// exports carry naive local datetimes, so no zone is recorded.
const TimestampLayout = "2006-01-02T15:04:05"

// Identity is a curated real-world person or group.
type Identity struct {
	ID           int64
	ShortName    string
	IsGroup      bool
	Relationship string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// AppIdentities holds the linked application identities when loaded
	// via ListIdentities.
	AppIdentities []AppIdentity
}

// AppIdentity is a participant identifier within one chat application.
// IdentityID is zero for orphan identities not linked to a curated Identity.
type AppIdentity struct {
	ID          int64
	Application Application
	Identifier  string
	IdentityID  int64 // 0 = orphan
	CreatedAt   time.Time
}

// Message is one imported chat message.
type Message struct {
	ID               int64
	Type             string
	Source           Application
	SourceIdentifier string
	SenderID         int64
	ReceiverID       int64
	Body             string
	Timestamp        time.Time

	// Denormalized sender/receiver identifiers, populated by ListMessages.
	Sender   string
	Receiver string
}
