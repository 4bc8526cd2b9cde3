package importer

import (
	"encoding/json"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestMessageBodyPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		msg  telegramMessage
		want string
	}{
		{
			name: "text wins over media",
			msg:  telegramMessage{Text: json.RawMessage(`"hello"`), MediaType: strPtr("photo")},
			want: "hello",
		},
		{
			name: "photo media type",
			msg:  telegramMessage{MediaType: strPtr("photo")},
			want: "[photo]",
		},
		{
			name: "voice message",
			msg:  telegramMessage{MediaType: strPtr("voice_message")},
			want: "[voice_message]",
		},
		{
			name: "sticker",
			msg:  telegramMessage{MediaType: strPtr("sticker")},
			want: "[sticker]",
		},
		{
			name: "other media with file name",
			msg:  telegramMessage{MediaType: strPtr("document"), FileName: strPtr("doc.pdf")},
			want: "[file: doc.pdf]",
		},
		{
			name: "other media without file name",
			msg:  telegramMessage{MediaType: strPtr("animation")},
			want: "[animation]",
		},
		{
			name: "bare photo field",
			msg:  telegramMessage{Photo: json.RawMessage(`"photos/photo_1.jpg"`)},
			want: "[photo]",
		},
		{
			name: "file name without media type",
			msg:  telegramMessage{FileName: strPtr("doc.pdf")},
			want: "[file: doc.pdf]",
		},
		{
			name: "nothing at all",
			msg:  telegramMessage{},
			want: "[media]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messageBody(&tt.msg); got != tt.want {
				t.Errorf("messageBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServiceBody(t *testing.T) {
	msg := telegramMessage{Action: "phone_call", DurationSeconds: intPtr(120)}
	if got := serviceBody(&msg); got != "[phone_call 120s]" {
		t.Errorf("serviceBody() = %q", got)
	}

	msg = telegramMessage{Action: "pin_message"}
	if got := serviceBody(&msg); got != "[pin_message]" {
		t.Errorf("serviceBody() = %q", got)
	}

	msg = telegramMessage{}
	if got := serviceBody(&msg); got != "[service]" {
		t.Errorf("serviceBody() = %q", got)
	}
}

func TestFlattenText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain string", `"hello"`, "hello"},
		{"empty", ``, ""},
		{"array of strings", `["a", "b"]`, "ab"},
		{"mixed fragments", `["see ", {"type": "link", "text": "https://x.example"}, " now"]`, "see https://x.example now"},
		{"object fragment only", `[{"type": "bold", "text": "loud"}]`, "loud"},
		{"unexpected shape", `{"text": "nested"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.raw != "" {
				raw = json.RawMessage(tt.raw)
			}
			if got := flattenText(raw); got != tt.want {
				t.Errorf("flattenText(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestWhatsAppLinePattern(t *testing.T) {
	tests := []struct {
		line  string
		match bool
	}{
		{"[15.03.2024, 09:12:30] Alice: hi", true},
		{"[15.03.2024, 09:12:30] Alice:", true},
		{"continuation line", false},
		{"[15.3.2024, 09:12:30] Alice: bad day field", false},
		{"[15.03.2024, 9:12:30] Alice: bad hour field", false},
	}
	for _, tt := range tests {
		if got := whatsappLinePattern.MatchString(tt.line); got != tt.match {
			t.Errorf("MatchString(%q) = %v, want %v", tt.line, got, tt.match)
		}
	}
}
