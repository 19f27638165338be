package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/folio-dev/foliochat/internal/chat"
)

// User is a registered account. Participant() is the shape that goes over
// the wire; the password hash never leaves this package's callers.
type User struct {
	ID           string
	DisplayName  string
	Email        string
	Role         string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
}

func (u User) Participant() chat.Participant {
	return chat.Participant{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        u.Role,
		Avatar:      u.Avatar,
	}
}

type Store struct {
	db *sql.DB
}

func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema when it does not exist yet.
func (s *Store) Init() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	display_name  TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL DEFAULT 'member',
	avatar        TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tokens (
	token      UUID PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	scope      TEXT NOT NULL,
	target     TEXT NOT NULL DEFAULT '',
	sender_id  UUID NOT NULL REFERENCES users(id),
	body       TEXT NOT NULL,
	sent_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	edited_at  TIMESTAMPTZ,
	deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_scope_target_idx ON messages (scope, target, sent_at);

CREATE TABLE IF NOT EXISTS groups (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_by  UUID NOT NULL REFERENCES users(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id  UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	user_id   UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	is_admin  BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS read_receipts (
	user_id      UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	scope        TEXT NOT NULL,
	target       TEXT NOT NULL DEFAULT '',
	last_read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, scope, target)
);
`

// User methods

func (s *Store) CreateUser(displayName, email, avatar, passwordHash string) (*User, error) {
	u := User{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		Email:        email,
		Role:         "member",
		Avatar:       avatar,
		PasswordHash: passwordHash,
	}
	err := s.db.QueryRow(`
		INSERT INTO users (id, display_name, email, avatar, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, u.DisplayName, u.Email, u.Avatar, u.PasswordHash).Scan(&u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(email string) (*User, error) {
	var u User
	err := s.db.QueryRow(`
		SELECT id, display_name, email, role, avatar, password_hash, created_at
		FROM users WHERE lower(email) = lower($1)
	`, email).Scan(&u.ID, &u.DisplayName, &u.Email, &u.Role, &u.Avatar, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(id string) (*User, error) {
	var u User
	err := s.db.QueryRow(`
		SELECT id, display_name, email, role, avatar, '', created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &u.Role, &u.Avatar, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Token methods. Tokens are the opaque bearer credentials the login
// endpoint hands out; the websocket upgrade validates against them.

func (s *Store) CreateToken(userID string) (string, error) {
	token := uuid.NewString()
	_, err := s.db.Exec("INSERT INTO tokens (token, user_id) VALUES ($1, $2)", token, userID)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) LookupToken(token string) (*User, error) {
	var userID string
	if err := s.db.QueryRow("SELECT user_id FROM tokens WHERE token = $1", token).Scan(&userID); err != nil {
		return nil, err
	}
	return s.GetUserByID(userID)
}

func (s *Store) DeleteToken(token string) error {
	_, err := s.db.Exec("DELETE FROM tokens WHERE token = $1", token)
	return err
}

// Message methods

func (s *Store) InsertMessage(scope chat.Scope, target, senderID, senderName, body string) (chat.Message, error) {
	m := chat.Message{
		ID:         uuid.NewString(),
		Scope:      scope,
		Target:     target,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
	}
	err := s.db.QueryRow(`
		INSERT INTO messages (id, scope, target, sender_id, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sent_at
	`, m.ID, m.Scope.String(), m.Target, m.SenderID, m.Body).Scan(&m.SentAt)
	return m, err
}

// EditMessage updates the body when the editor is the sender, returning the
// updated row.
func (s *Store) EditMessage(id, editorID, body string) (chat.Message, error) {
	row := s.db.QueryRow(`
		UPDATE messages SET body = $1, edited_at = NOW()
		WHERE id = $2 AND sender_id = $3 AND deleted_at IS NULL
		RETURNING id, scope, target, sender_id, body, sent_at, edited_at, deleted_at
	`, body, id, editorID)
	return scanMessage(row)
}

func (s *Store) DeleteMessage(id, editorID string) (chat.Message, error) {
	row := s.db.QueryRow(`
		UPDATE messages SET deleted_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL
		RETURNING id, scope, target, sender_id, body, sent_at, edited_at, deleted_at
	`, id, editorID)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var m chat.Message
	var scope string
	var edited, deleted sql.NullTime
	err := row.Scan(&m.ID, &scope, &m.Target, &m.SenderID, &m.Body, &m.SentAt, &edited, &deleted)
	if err != nil {
		return chat.Message{}, err
	}
	switch scope {
	case "private":
		m.Scope = chat.ScopePrivate
	case "group":
		m.Scope = chat.ScopeGroup
	default:
		m.Scope = chat.ScopePublic
	}
	if edited.Valid {
		m.EditedAt = &edited.Time
	}
	if deleted.Valid {
		m.DeletedAt = &deleted.Time
	}
	return m, nil
}

// History returns the most recent messages of a conversation, oldest first.
// Private history is symmetric: both directions of the pair.
func (s *Store) History(scope chat.Scope, target, requesterID string, limit int) ([]chat.Message, error) {
	var rows *sql.Rows
	var err error

	switch scope {
	case chat.ScopePrivate:
		rows, err = s.db.Query(`
			SELECT m.id, m.scope, m.target, m.sender_id, m.body, m.sent_at, m.edited_at, m.deleted_at
			FROM messages m
			WHERE m.scope = 'private'
			  AND ((m.sender_id = $1 AND m.target = $2) OR (m.sender_id = $2 AND m.target = $1))
			ORDER BY m.sent_at DESC
			LIMIT $3
		`, requesterID, target, limit)
	default:
		rows, err = s.db.Query(`
			SELECT m.id, m.scope, m.target, m.sender_id, m.body, m.sent_at, m.edited_at, m.deleted_at
			FROM messages m
			WHERE m.scope = $1 AND m.target = $2
			ORDER BY m.sent_at DESC
			LIMIT $3
		`, scope.String(), target, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}

	// Oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

// SenderNames fills SenderName on a message batch in one query.
func (s *Store) SenderNames(msgs []chat.Message) error {
	names := make(map[string]string)
	for i := range msgs {
		if _, ok := names[msgs[i].SenderID]; ok {
			continue
		}
		var name string
		err := s.db.QueryRow("SELECT display_name FROM users WHERE id = $1", msgs[i].SenderID).Scan(&name)
		if err != nil {
			continue
		}
		names[msgs[i].SenderID] = name
	}
	for i := range msgs {
		msgs[i].SenderName = names[msgs[i].SenderID]
	}
	return nil
}

// MarkRead persists a read receipt for the conversation.
func (s *Store) MarkRead(userID string, scope chat.Scope, target string) error {
	_, err := s.db.Exec(`
		INSERT INTO read_receipts (user_id, scope, target, last_read_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, scope, target) DO UPDATE SET last_read_at = NOW()
	`, userID, scope.String(), target)
	return err
}

// Group methods

func (s *Store) CreateGroup(name, description, createdBy string, memberIDs []string) (chat.GroupInfo, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return chat.GroupInfo{}, err
	}
	defer tx.Rollback()

	g := chat.GroupInfo{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
	}
	err = tx.QueryRow(`
		INSERT INTO groups (id, name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, g.ID, g.Name, g.Description, g.CreatedBy).Scan(&g.CreatedAt)
	if err != nil {
		return chat.GroupInfo{}, err
	}

	// Creator first, as member and admin.
	_, err = tx.Exec(`
		INSERT INTO group_members (group_id, user_id, is_admin) VALUES ($1, $2, TRUE)
	`, g.ID, createdBy)
	if err != nil {
		return chat.GroupInfo{}, err
	}
	for _, id := range memberIDs {
		if id == createdBy {
			continue
		}
		_, err = tx.Exec(`
			INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, g.ID, id)
		if err != nil {
			return chat.GroupInfo{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.GroupInfo{}, err
	}
	return s.GetGroup(g.ID)
}

// GetGroup loads a group with members in join order.
func (s *Store) GetGroup(id string) (chat.GroupInfo, error) {
	var g chat.GroupInfo
	err := s.db.QueryRow(`
		SELECT id, name, description, created_by, created_at FROM groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		return chat.GroupInfo{}, err
	}

	rows, err := s.db.Query(`
		SELECT u.id, u.display_name, u.email, u.role, u.avatar, gm.is_admin
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at, u.id
	`, id)
	if err != nil {
		return chat.GroupInfo{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p chat.Participant
		var isAdmin bool
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Email, &p.Role, &p.Avatar, &isAdmin); err != nil {
			return chat.GroupInfo{}, err
		}
		g.Members = append(g.Members, p)
		if isAdmin {
			g.Admins = append(g.Admins, p.ID)
		}
	}
	return g, rows.Err()
}

// AllGroups lists every group, for the post-announce snapshot.
func (s *Store) AllGroups() ([]chat.GroupInfo, error) {
	rows, err := s.db.Query("SELECT id FROM groups ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]chat.GroupInfo, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *Store) AddGroupMember(groupID, userID string) error {
	_, err := s.db.Exec(`
		INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, groupID, userID)
	return err
}

func (s *Store) IsGroupAdmin(groupID, userID string) (bool, error) {
	var isAdmin bool
	err := s.db.QueryRow(`
		SELECT is_admin FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&isAdmin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return isAdmin, err
}

// RemoveGroupMember removes the membership row and applies the same
// promotion rule the clients apply: when the departing member was the sole
// admin, the longest-standing remaining member inherits admin rights. An
// emptied group is deleted.
func (s *Store) RemoveGroupMember(groupID, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID); err != nil {
		return err
	}

	var remaining int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM group_members WHERE group_id = $1
	`, groupID).Scan(&remaining); err != nil {
		return err
	}
	if remaining == 0 {
		if _, err := tx.Exec("DELETE FROM groups WHERE id = $1", groupID); err != nil {
			return err
		}
		return tx.Commit()
	}

	var admins int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND is_admin
	`, groupID).Scan(&admins); err != nil {
		return err
	}
	if admins == 0 {
		if _, err := tx.Exec(`
			UPDATE group_members SET is_admin = TRUE
			WHERE group_id = $1 AND user_id = (
				SELECT user_id FROM group_members
				WHERE group_id = $1
				ORDER BY joined_at, user_id
				LIMIT 1
			)
		`, groupID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GroupMemberIDs returns the member ids, for fan-out targeting.
func (s *Store) GroupMemberIDs(groupID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT user_id FROM group_members WHERE group_id = $1
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
