package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aerobless/thereabout/internal/store"
)

const telegramTimeLayout = "2006-01-02T15:04:05"

// Chat types addressed by chat name; everything else (notably personal_chat,
// also an absent type) is personal and needs a caller-supplied receiver.
var telegramGroupChatTypes = map[string]bool{
	"private_group":      true,
	"private_supergroup": true,
}

// telegramChat is one chat: the whole document for a single-chat export, or
// one element of chats.list for a multi-chat export. Messages is a pointer
// so an absent array can be told apart from an empty one.
type telegramChat struct {
	ID       json.Number        `json:"id"`
	Type     string             `json:"type"`
	Name     string             `json:"name"`
	Messages *[]telegramMessage `json:"messages"`
}

type telegramExport struct {
	telegramChat
	Chats *struct {
		List []telegramChat `json:"list"`
	} `json:"chats"`
}

// flexString accepts both JSON strings and numbers; older Telegram exports
// emit numeric from_id/actor_id values where newer ones use strings.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("expected string or number, got %s", data)
}

type telegramMessage struct {
	ID              json.Number     `json:"id"`
	Type            string          `json:"type"`
	Date            string          `json:"date"`
	From            *string         `json:"from"`
	FromID          *flexString     `json:"from_id"`
	Actor           *string         `json:"actor"`
	ActorID         *flexString     `json:"actor_id"`
	Action          string          `json:"action"`
	DurationSeconds *int            `json:"duration_seconds"`
	Text            json.RawMessage `json:"text"`
	MediaType       *string         `json:"media_type"`
	FileName        *string         `json:"file_name"`
	Photo           json.RawMessage `json:"photo"`
}

// parseTelegram imports a Telegram JSON export, either a single chat or a
// multi-chat file with a chats.list array. The identity cache on the run is
// shared across all chats so a sender appearing in several chats resolves to
// the same application identity.
func (imp *Importer) parseTelegram(ctx context.Context, run *importRun, path, receiver string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read telegram export: %w", err)
	}

	var export telegramExport
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("parse telegram export: %w", err)
	}

	var chats []telegramChat
	switch {
	case export.Chats != nil:
		if len(export.Chats.List) == 0 {
			run.logger.Info("telegram multi-chat export has no chats, nothing to import")
			return nil
		}
		chats = export.Chats.List
	case export.Messages != nil:
		chats = []telegramChat{export.telegramChat}
	default:
		return fmt.Errorf("telegram export must contain a 'messages' array or a 'chats.list' array")
	}

	// Fail fast on ambiguous receiver assignment, before touching any record.
	if receiver == "" {
		for _, chat := range chats {
			if !isTelegramGroupChat(chat) {
				return ErrReceiverRequired
			}
		}
	}

	for _, chat := range chats {
		if chat.Messages != nil {
			run.totalRecords += int64(len(*chat.Messages))
		}
	}
	run.logger.Info("counted telegram messages",
		"count", run.totalRecords, "chats", len(chats), "file", filepath.Base(path))

	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := imp.importTelegramChat(ctx, run, chat, receiver); err != nil {
			return err
		}
	}

	return run.flush()
}

func (imp *Importer) importTelegramChat(ctx context.Context, run *importRun, chat telegramChat, receiver string) error {
	if chat.Messages == nil {
		return nil
	}

	receiverAI, err := run.resolveReceiver(telegramChatReceiver(chat, receiver))
	if err != nil {
		return err
	}
	chatID := chat.ID.String()

	for i := range *chat.Messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := &(*chat.Messages)[i]

		var sender, body string
		if msg.Type == "service" {
			// Service records need an actor; records without one are
			// skipped silently.
			if msg.Actor == nil || msg.ActorID == nil {
				run.recordProcessed()
				continue
			}
			sender = *msg.Actor + "|" + string(*msg.ActorID)
			body = serviceBody(msg)
		} else {
			if msg.From == nil || msg.FromID == nil {
				run.recordProcessed()
				continue
			}
			sender = *msg.From + "|" + string(*msg.FromID)
			body = messageBody(msg)
		}

		ts, err := time.Parse(telegramTimeLayout, msg.Date)
		if err != nil {
			return fmt.Errorf("unparseable telegram timestamp %q in chat %s: %w", msg.Date, chatID, err)
		}

		senderAI, err := run.resolve(sender)
		if err != nil {
			return err
		}

		err = run.enqueue(store.Message{
			Type:             "text",
			Source:           store.AppTelegram,
			SourceIdentifier: "telegram-" + chatID + "-" + msg.ID.String(),
			SenderID:         senderAI.ID,
			ReceiverID:       receiverAI.ID,
			Body:             body,
			Timestamp:        ts,
		})
		if err != nil {
			return err
		}
		run.recordProcessed()
	}

	return nil
}

func isTelegramGroupChat(chat telegramChat) bool {
	return telegramGroupChatTypes[chat.Type]
}

// telegramChatReceiver picks the receiver label for one chat: group chats
// always use the chat name, personal chats prefer the caller-supplied
// receiver and fall back to the chat name.
func telegramChatReceiver(chat telegramChat, receiver string) string {
	if isTelegramGroupChat(chat) {
		return chat.Name
	}
	if receiver != "" {
		return receiver
	}
	return chat.Name
}

// messageBody resolves the text of a message record, deriving a placeholder
// from the media metadata when the text is empty.
func messageBody(msg *telegramMessage) string {
	body := flattenText(msg.Text)
	if body != "" {
		return body
	}
	if msg.MediaType != nil {
		switch *msg.MediaType {
		case "photo":
			return "[photo]"
		case "voice_message":
			return "[voice_message]"
		case "sticker":
			return "[sticker]"
		default:
			if msg.FileName != nil {
				return "[file: " + *msg.FileName + "]"
			}
			return "[" + *msg.MediaType + "]"
		}
	}
	if len(msg.Photo) > 0 {
		return "[photo]"
	}
	if msg.FileName != nil {
		return "[file: " + *msg.FileName + "]"
	}
	return "[media]"
}

// serviceBody renders a service record (call, pin, group action) as
// "[action]" or "[action <n>s]" when a duration is present.
func serviceBody(msg *telegramMessage) string {
	action := msg.Action
	if action == "" {
		action = "service"
	}
	if msg.DurationSeconds != nil {
		return fmt.Sprintf("[%s %ds]", action, *msg.DurationSeconds)
	}
	return "[" + action + "]"
}

// flattenText resolves the text field, which is either a plain string or an
// array of fragments: plain strings mixed with objects carrying a text field
// (links, mentions, formatting). Fragments concatenate in order.
func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		var ps string
		if err := json.Unmarshal(part, &ps); err == nil {
			b.WriteString(ps)
			continue
		}
		var frag struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &frag); err == nil {
			b.WriteString(frag.Text)
		}
	}
	return b.String()
}
