package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FindAppIdentity looks up an application identity by (application, identifier).
// Returns nil when no row exists.
func (s *Store) FindAppIdentity(app Application, identifier string) (*AppIdentity, error) {
	row := s.db.QueryRow(`
		SELECT id, application, identifier, COALESCE(identity_id, 0), created_at
		FROM app_identities
		WHERE application = ? AND identifier = ?
	`, string(app), identifier)

	ai, err := scanAppIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find app identity: %w", err)
	}
	return ai, nil
}

// CreateAppIdentity inserts a new application identity. identityID of zero
// creates an orphan (no linked identity). A concurrent insert of the same
// (application, identifier) pair is tolerated: the UNIQUE violation is
// retried as a lookup.
func (s *Store) CreateAppIdentity(app Application, identifier string, identityID int64) (*AppIdentity, error) {
	var identityRef interface{}
	if identityID > 0 {
		identityRef = identityID
	}

	res, err := s.db.Exec(`
		INSERT INTO app_identities (application, identifier, identity_id)
		VALUES (?, ?, ?)
	`, string(app), identifier, identityRef)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindAppIdentity(app, identifier)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create app identity: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create app identity: %w", err)
	}
	return &AppIdentity{
		ID:          id,
		Application: app,
		Identifier:  identifier,
		IdentityID:  identityID,
	}, nil
}

// FindIdentityByShortName looks up a curated identity by its exact short name.
// Returns nil when no row exists.
func (s *Store) FindIdentityByShortName(name string) (*Identity, error) {
	row := s.db.QueryRow(`
		SELECT id, short_name, is_group, COALESCE(relationship, ''), created_at, updated_at
		FROM identities
		WHERE short_name = ?
	`, name)

	ident, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity by short name: %w", err)
	}
	return ident, nil
}

// CreateIdentity inserts a new curated identity.
func (s *Store) CreateIdentity(shortName string, isGroup bool, relationship string) (*Identity, error) {
	res, err := s.db.Exec(`
		INSERT INTO identities (short_name, is_group, relationship)
		VALUES (?, ?, ?)
	`, shortName, boolToInt(isGroup), nullableString(relationship))
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return &Identity{
		ID:           id,
		ShortName:    shortName,
		IsGroup:      isGroup,
		Relationship: relationship,
	}, nil
}

// UpdateIdentity updates the mutable fields of a curated identity.
// Returns sql.ErrNoRows when the identity does not exist.
func (s *Store) UpdateIdentity(id int64, shortName string, isGroup bool, relationship string) error {
	res, err := s.db.Exec(`
		UPDATE identities
		SET short_name = ?, is_group = ?, relationship = ?, updated_at = datetime('now')
		WHERE id = ?
	`, shortName, boolToInt(isGroup), nullableString(relationship), id)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LinkAppIdentity links an existing application identity to a curated identity.
func (s *Store) LinkAppIdentity(appIdentityID, identityID int64) error {
	_, err := s.db.Exec(`
		UPDATE app_identities
		SET identity_id = ?, updated_at = datetime('now')
		WHERE id = ?
	`, identityID, appIdentityID)
	if err != nil {
		return fmt.Errorf("link app identity: %w", err)
	}
	return nil
}

// ListIdentities returns all curated identities with their linked
// application identities, ordered by short name.
func (s *Store) ListIdentities() ([]Identity, error) {
	rows, err := s.db.Query(`
		SELECT id, short_name, is_group, COALESCE(relationship, ''), created_at, updated_at
		FROM identities
		ORDER BY short_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []Identity
	byID := make(map[int64]int)
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("list identities: %w", err)
		}
		byID[ident.ID] = len(identities)
		identities = append(identities, *ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	appRows, err := s.db.Query(`
		SELECT id, application, identifier, COALESCE(identity_id, 0), created_at
		FROM app_identities
		WHERE identity_id IS NOT NULL
		ORDER BY application, identifier
	`)
	if err != nil {
		return nil, fmt.Errorf("list app identities: %w", err)
	}
	defer appRows.Close()

	for appRows.Next() {
		ai, err := scanAppIdentity(appRows)
		if err != nil {
			return nil, fmt.Errorf("list app identities: %w", err)
		}
		if idx, ok := byID[ai.IdentityID]; ok {
			identities[idx].AppIdentities = append(identities[idx].AppIdentities, *ai)
		}
	}
	if err := appRows.Err(); err != nil {
		return nil, fmt.Errorf("list app identities: %w", err)
	}

	return identities, nil
}

// ListAppIdentities returns all application identities for one application,
// ordered by identifier.
func (s *Store) ListAppIdentities(app Application) ([]AppIdentity, error) {
	rows, err := s.db.Query(`
		SELECT id, application, identifier, COALESCE(identity_id, 0), created_at
		FROM app_identities
		WHERE application = ?
		ORDER BY identifier
	`, string(app))
	if err != nil {
		return nil, fmt.Errorf("list app identities: %w", err)
	}
	defer rows.Close()

	var identities []AppIdentity
	for rows.Next() {
		ai, err := scanAppIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("list app identities: %w", err)
		}
		identities = append(identities, *ai)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list app identities: %w", err)
	}
	return identities, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAppIdentity(sc scanner) (*AppIdentity, error) {
	var ai AppIdentity
	var app, createdAt string
	if err := sc.Scan(&ai.ID, &app, &ai.Identifier, &ai.IdentityID, &createdAt); err != nil {
		return nil, err
	}
	ai.Application = Application(app)
	ai.CreatedAt = parseDBTime(createdAt)
	return &ai, nil
}

func scanIdentity(sc scanner) (*Identity, error) {
	var ident Identity
	var isGroup int
	var createdAt, updatedAt string
	if err := sc.Scan(&ident.ID, &ident.ShortName, &isGroup, &ident.Relationship, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ident.IsGroup = isGroup != 0
	ident.CreatedAt = parseDBTime(createdAt)
	ident.UpdatedAt = parseDBTime(updatedAt)
	return &ident, nil
}

func parseDBTime(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
