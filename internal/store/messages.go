package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MessageExists reports whether a message with the given source identifier
// has already been persisted.
func (s *Store) MessageExists(sourceIdentifier string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM messages WHERE source_identifier = ?
	`, sourceIdentifier).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return true, nil
}

// InsertMessages bulk-inserts a batch of messages in a single transaction.
// The batch is all-or-nothing: any failure rolls back the whole call.
func (s *Store) InsertMessages(batch []Message) error {
	if len(batch) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO messages (type, source, source_identifier, sender_id, receiver_id, body, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range batch {
			m := &batch[i]
			_, err := stmt.Exec(
				m.Type,
				string(m.Source),
				m.SourceIdentifier,
				m.SenderID,
				m.ReceiverID,
				m.Body,
				m.Timestamp.Format(TimestampLayout),
			)
			if err != nil {
				return fmt.Errorf("insert message %s: %w", m.SourceIdentifier, err)
			}
		}
		return nil
	})
}

// MessageFilter narrows ListMessages results. Zero values mean "no filter".
type MessageFilter struct {
	Search   string      // substring match on body
	DateFrom time.Time   // inclusive lower bound
	DateTo   time.Time   // inclusive upper bound (whole day)
	Source   Application // exact source match
	Sender   string      // substring match on sender identifier
	Receiver string      // substring match on receiver identifier
}

// ListMessages returns one page of messages ordered by timestamp descending,
// plus the total count matching the filter.
func (s *Store) ListMessages(filter MessageFilter, offset, limit int) ([]Message, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []interface{}

	if filter.Search != "" {
		conds = append(conds, "m.body LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}
	if !filter.DateFrom.IsZero() {
		conds = append(conds, "m.timestamp >= ?")
		args = append(args, filter.DateFrom.Format(TimestampLayout))
	}
	if !filter.DateTo.IsZero() {
		conds = append(conds, "m.timestamp <= ?")
		args = append(args, filter.DateTo.Format(TimestampLayout))
	}
	if filter.Source != "" {
		conds = append(conds, "m.source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Sender != "" {
		conds = append(conds, "sender.identifier LIKE ?")
		args = append(args, "%"+filter.Sender+"%")
	}
	if filter.Receiver != "" {
		conds = append(conds, "receiver.identifier LIKE ?")
		args = append(args, "%"+filter.Receiver+"%")
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	baseQuery := fmt.Sprintf(`
		FROM messages m
		JOIN app_identities sender ON sender.id = m.sender_id
		JOIN app_identities receiver ON receiver.id = m.receiver_id
		%s
	`, where)

	var total int64
	if err := s.db.QueryRow("SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := `
		SELECT m.id, m.type, m.source, m.source_identifier, m.sender_id, m.receiver_id,
		       COALESCE(m.body, ''), m.timestamp, sender.identifier, receiver.identifier
	` + baseQuery + `
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var source, ts string
		if err := rows.Scan(&m.ID, &m.Type, &source, &m.SourceIdentifier, &m.SenderID,
			&m.ReceiverID, &m.Body, &ts, &m.Sender, &m.Receiver); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		m.Source = Application(source)
		m.Timestamp, _ = time.Parse(TimestampLayout, ts)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	return messages, total, nil
}

// MessagesByDate returns all messages with a timestamp on the given calendar
// day, ordered by timestamp ascending.
func (s *Store) MessagesByDate(date time.Time) ([]Message, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24*time.Hour - time.Second)
	messages, _, err := s.ListMessages(MessageFilter{DateFrom: from, DateTo: to}, 0, 1000000)
	if err != nil {
		return nil, err
	}
	// ListMessages sorts descending; flip to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Stats summarizes the archive contents.
type Stats struct {
	MessageCount     int64 `json:"message_count"`
	IdentityCount    int64 `json:"identity_count"`
	AppIdentityCount int64 `json:"app_identity_count"`
}

// GetStats returns archive statistics.
func (s *Store) GetStats() (*Stats, error) {
	var stats Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&stats.MessageCount); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM identities`).Scan(&stats.IdentityCount); err != nil {
		return nil, fmt.Errorf("count identities: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM app_identities`).Scan(&stats.AppIdentityCount); err != nil {
		return nil, fmt.Errorf("count app identities: %w", err)
	}
	return &stats, nil
}
