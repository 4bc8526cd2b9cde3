// Package contacts links address-book contacts to chat identities. WhatsApp
// exports print the raw phone number for anyone not in the exporter's address
// book, so a vCard import is the quickest way to turn those numbers back into
// names.
package contacts

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/aerobless/thereabout/internal/store"
)

// defaultCountryCode is prepended to trunk-prefixed local numbers (those
// starting with a single 0) when normalizing.
const defaultCountryCode = "+41"

// Contact is one entry parsed from a vCard file.
type Contact struct {
	FullName string
	Phones   []string // normalized to E.164
}

// Summary reports the outcome of a contacts import.
type Summary struct {
	Contacts int // contacts parsed from the vCard file
	Linked   int // chat identities newly linked to a curated identity
}

// Import reads a .vcf file and links matching chat identities to curated
// identities named after the contact. Only identities whose identifier
// normalizes to a phone number present in the vCard are touched, and already
// linked identities are left alone.
func Import(st *store.Store, vcfPath string) (*Summary, error) {
	parsed, err := ParseFile(vcfPath)
	if err != nil {
		return nil, fmt.Errorf("parse vcard: %w", err)
	}

	appIdentities, err := st.ListAppIdentities(store.AppWhatsApp)
	if err != nil {
		return nil, err
	}

	// Index orphan chat identities by their normalized phone number.
	byPhone := make(map[string]store.AppIdentity)
	for _, ai := range appIdentities {
		if ai.IdentityID != 0 {
			continue
		}
		if phone := NormalizePhone(ai.Identifier); phone != "" {
			byPhone[phone] = ai
		}
	}

	summary := &Summary{Contacts: len(parsed)}
	for _, c := range parsed {
		if c.FullName == "" {
			continue
		}
		for _, phone := range c.Phones {
			ai, ok := byPhone[phone]
			if !ok {
				continue
			}

			ident, err := st.FindIdentityByShortName(c.FullName)
			if err != nil {
				return summary, err
			}
			if ident == nil {
				ident, err = st.CreateIdentity(c.FullName, false, "")
				if err != nil {
					return summary, err
				}
			}
			if err := st.LinkAppIdentity(ai.ID, ident.ID); err != nil {
				return summary, err
			}
			delete(byPhone, phone)
			summary.Linked++
		}
	}

	return summary, nil
}

// ParseFile reads a .vcf file and returns the parsed contacts.
// Handles vCard 2.1 and 3.0 formats.
func ParseFile(path string) ([]Contact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var parsed []Contact
	var current *Contact

	scanner := bufio.NewScanner(f)
	// Long lines happen, e.g. base64-encoded contact photos.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "BEGIN:VCARD":
			current = &Contact{}

		case line == "END:VCARD":
			if current != nil && (current.FullName != "" || len(current.Phones) > 0) {
				parsed = append(parsed, *current)
			}
			current = nil

		case current == nil:
			continue

		case strings.HasPrefix(line, "FN:") || strings.HasPrefix(line, "FN;"):
			// FN is the display name, preferred over the structured N field.
			if name := vcardValue(line); name != "" {
				current.FullName = name
			}

		case strings.HasPrefix(line, "TEL"):
			// TEL;CELL:+41... or TEL;TYPE=CELL:+41... or TEL:+41...
			if phone := NormalizePhone(vcardValue(line)); phone != "" {
				current.Phones = append(current.Phones, phone)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan vcard: %w", err)
	}

	return parsed, nil
}

// vcardValue extracts the value part from a vCard line, handling both
// "KEY:value" and "KEY;params:value" forms.
func vcardValue(line string) string {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}

var nonDigit = regexp.MustCompile(`[^\d]`)

// NormalizePhone normalizes a phone number to E.164. Formatting characters
// are dropped, 00-prefixed international numbers become +-prefixed, and
// trunk-prefixed local numbers get the default country code. Strings that do
// not look like a phone number come back empty.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	hasPlus := strings.HasPrefix(raw, "+")

	digits := nonDigit.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}

	if hasPlus {
		return "+" + digits
	}

	// 00-prefixed international format, e.g. 0041791234567.
	if strings.HasPrefix(digits, "00") && len(digits) > 4 {
		return "+" + digits[2:]
	}

	// Trunk-prefixed local number, e.g. 0791234567.
	if strings.HasPrefix(digits, "0") && len(digits) >= 9 {
		return defaultCountryCode + digits[1:]
	}

	if len(digits) >= 10 {
		return "+" + digits
	}

	// Too short or ambiguous.
	return ""
}
