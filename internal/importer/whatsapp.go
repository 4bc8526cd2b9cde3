package importer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aerobless/thereabout/internal/store"
)

// whatsappLinePattern matches the first line of an exported message:
// [dd.mm.yyyy, HH:mm:ss] sender: body. The body may be empty. Lines not
// matching are continuations of the previous message.
var whatsappLinePattern = regexp.MustCompile(`^\[(\d{2}\.\d{2}\.\d{4}), (\d{2}:\d{2}:\d{2})\] ([^:]+): ?(.*)$`)

const whatsappTimeLayout = "02.01.2006, 15:04:05"

// Zero-width formatting marks (LRM, RLM, ZWSP, ZWNJ, ZWJ, BOM) that WhatsApp
// prepends to some lines, e.g. before media placeholders like "image omitted".
const leadingFormatMarks = "‎‏​‌‍\uFEFF"

// parseWhatsApp imports a WhatsApp plain-text chat export. The file is read
// twice: a first pass counts message lines for progress reporting, the
// second accumulates and imports them without loading the file into memory.
func (imp *Importer) parseWhatsApp(ctx context.Context, run *importRun, path, receiver string) error {
	total, err := countWhatsAppMessages(path)
	if err != nil {
		return err
	}
	run.totalRecords = total
	run.logger.Info("counted whatsapp messages",
		"count", total, "file", filepath.Base(path))

	w := &whatsappChat{run: run}
	if receiver != "" {
		w.receiver, err = run.resolveReceiver(receiver)
		if err != nil {
			return err
		}
	} else {
		// Two-participant mode: the receiver of each message is "the other
		// participant", discovered incrementally. Hold flushes so no row is
		// persisted while its receiver is still a provisional placeholder.
		run.holdFlush = true
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open whatsapp export: %w", err)
	}
	defer f.Close()

	scanner := newLineScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimLeft(scanner.Text(), leadingFormatMarks)
		m := whatsappLinePattern.FindStringSubmatch(line)
		if m == nil {
			w.appendContinuation(line)
			continue
		}

		// A matching line both terminates the previous message and starts
		// the next one; boundaries are only visible from the following line.
		if err := w.flushCurrent(); err != nil {
			return err
		}
		raw := m[1] + ", " + m[2]
		ts, err := time.Parse(whatsappTimeLayout, raw)
		if err != nil {
			return fmt.Errorf("unparseable whatsapp timestamp %q: %w", raw, err)
		}
		w.start(m[3], ts, m[4])
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read whatsapp export: %w", err)
	}

	if err := w.flushCurrent(); err != nil {
		return err
	}

	// The only two participants may appear in immediate succession at the
	// very end of the file, so fix up once more before the final flush.
	w.fixupBatch()
	run.holdFlush = false
	return run.flush()
}

// countWhatsAppMessages counts lines matching the message pattern, applying
// the same formatting-mark stripping as the import pass.
func countWhatsAppMessages(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open whatsapp export: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), leadingFormatMarks)
		if whatsappLinePattern.MatchString(line) {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read whatsapp export: %w", err)
	}
	return count, nil
}

func newLineScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return scanner
}

// whatsappChat accumulates one message at a time and tracks the participants
// discovered so far for two-participant receiver resolution.
type whatsappChat struct {
	run      *importRun
	receiver *store.AppIdentity // explicit receiver; nil in two-participant mode

	participants []*store.AppIdentity // discovery order, two-participant mode only

	accumulating bool
	sender       string
	timestamp    time.Time
	body         strings.Builder
}

func (w *whatsappChat) start(sender string, ts time.Time, body string) {
	w.accumulating = true
	w.sender = sender
	w.timestamp = ts
	w.body.Reset()
	w.body.WriteString(body)
}

func (w *whatsappChat) appendContinuation(line string) {
	if !w.accumulating {
		return
	}
	w.body.WriteString("\n")
	w.body.WriteString(line)
}

// flushCurrent resolves and queues the accumulated message, if any.
func (w *whatsappChat) flushCurrent() error {
	if !w.accumulating {
		return nil
	}
	w.accumulating = false
	body := w.body.String()

	sender, err := w.run.resolve(w.sender)
	if err != nil {
		return err
	}

	receiverID := w.resolveReceiverFor(sender)

	err = w.run.enqueue(store.Message{
		Type:             "text",
		Source:           store.AppWhatsApp,
		SourceIdentifier: whatsappSourceID(w.sender, w.timestamp, body),
		SenderID:         sender.ID,
		ReceiverID:       receiverID,
		Body:             body,
		Timestamp:        w.timestamp,
	})
	if err != nil {
		return err
	}

	w.run.recordProcessed()
	return nil
}

// resolveReceiverFor returns the receiver for a message from sender. With an
// explicit receiver it is fixed. In two-participant mode it is the other
// known participant, or the sender itself as a provisional placeholder until
// a second participant shows up; the placeholder rows are rewritten by
// fixupBatch as soon as that happens.
func (w *whatsappChat) resolveReceiverFor(sender *store.AppIdentity) int64 {
	if w.receiver != nil {
		return w.receiver.ID
	}

	known := false
	for _, p := range w.participants {
		if p.ID == sender.ID {
			known = true
			break
		}
	}
	if !known {
		w.participants = append(w.participants, sender)
		if len(w.participants) == 2 {
			w.fixupBatch()
			w.run.holdFlush = false
		}
	}

	if other := w.otherParticipant(sender.ID); other != nil {
		return other.ID
	}
	return sender.ID
}

// fixupBatch rewrites every queued message whose receiver is still the
// self-referential placeholder, pointing it at the other participant.
func (w *whatsappChat) fixupBatch() {
	if w.receiver != nil || len(w.participants) < 2 {
		return
	}
	for i := range w.run.batch {
		msg := &w.run.batch[i]
		if msg.SenderID != msg.ReceiverID {
			continue
		}
		if other := w.otherParticipant(msg.SenderID); other != nil {
			msg.ReceiverID = other.ID
		}
	}
}

func (w *whatsappChat) otherParticipant(senderID int64) *store.AppIdentity {
	for _, p := range w.participants {
		if p.ID != senderID {
			return p
		}
	}
	return nil
}

// whatsappSourceID derives the deduplication key for a message. WhatsApp
// exports carry no message id, so a content hash over sender, timestamp and
// body is the only stable identifier.
func whatsappSourceID(sender string, ts time.Time, body string) string {
	h := sha256.Sum256([]byte(sender + "|" + ts.Format(store.TimestampLayout) + "|" + body))
	return hex.EncodeToString(h[:])
}
