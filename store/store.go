// Package store is the node's durable directory: registered users with
// their public keys and encrypted key bundles, groups, and the per-member
// wrapped group keys for the shared public channel. Backed by SQLite so a
// restart keeps the registry.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// PublicGroupID names the channel every registered user belongs to.
const PublicGroupID = "public"

var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	pubkey        TEXT NOT NULL,
	privkey_store TEXT NOT NULL DEFAULT '',
	pake_password TEXT NOT NULL DEFAULT '',
	meta          TEXT NOT NULL DEFAULT '{}',
	version       INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS groups (
	group_id TEXT PRIMARY KEY,
	creator  TEXT NOT NULL DEFAULT '',
	meta     TEXT NOT NULL DEFAULT '{}',
	version  INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS group_members (
	group_id    TEXT NOT NULL,
	member_id   TEXT NOT NULL,
	role        TEXT NOT NULL DEFAULT 'member',
	wrapped_key TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (group_id, member_id)
);
`

// User is one row of the registry.
type User struct {
	UserID       string
	Pubkey       string
	PrivkeyStore string
	PakePassword string
	Meta         string
	Version      int64
}

// Member is a group membership row; WrappedKey is the group key wrapped to
// the member's public key, opaque to the server.
type Member struct {
	MemberID   string
	Role       string
	WrappedKey string
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the registry at path and applies the schema.
// ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	// modernc sqlite is single-writer; serialise through one connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsurePublicGroup creates the shared channel row if missing.
func (s *Store) EnsurePublicGroup(ctx context.Context, creator string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, creator) VALUES (?, ?)
		 ON CONFLICT (group_id) DO NOTHING`, PublicGroupID, creator)
	return err
}

// RegisterUser upserts a user row. The version bumps on every re-register so
// stale advertises lose.
func (s *Store) RegisterUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, pubkey, privkey_store, pake_password, meta, version)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT (user_id) DO UPDATE SET
		   pubkey = excluded.pubkey,
		   privkey_store = excluded.privkey_store,
		   pake_password = excluded.pake_password,
		   meta = excluded.meta,
		   version = users.version + 1`,
		u.UserID, u.Pubkey, u.PrivkeyStore, u.PakePassword, metaOrDefault(u.Meta))
	return err
}

func metaOrDefault(meta string) string {
	if meta == "" {
		return "{}"
	}
	return meta
}

func (s *Store) GetUser(ctx context.Context, uid string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, pubkey, privkey_store, pake_password, meta, version
		 FROM users WHERE user_id = ?`, uid).
		Scan(&u.UserID, &u.Pubkey, &u.PrivkeyStore, &u.PakePassword, &u.Meta, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// GetPubkey returns the registered SPKI PEM for a user.
func (s *Store) GetPubkey(ctx context.Context, uid string) (string, error) {
	var pub string
	err := s.db.QueryRowContext(ctx,
		`SELECT pubkey FROM users WHERE user_id = ?`, uid).Scan(&pub)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return pub, err
}

func (s *Store) UserExists(ctx context.Context, uid string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE user_id = ?`, uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// AddMember inserts or refreshes a membership with its wrapped group key.
func (s *Store) AddMember(ctx context.Context, groupID string, m Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, member_id, role, wrapped_key)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (group_id, member_id) DO UPDATE SET
		   role = excluded.role,
		   wrapped_key = excluded.wrapped_key`,
		groupID, m.MemberID, roleOrDefault(m.Role), m.WrappedKey)
	return err
}

func roleOrDefault(role string) string {
	if role == "" {
		return "member"
	}
	return role
}

func (s *Store) RemoveMember(ctx context.Context, groupID, memberID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND member_id = ?`,
		groupID, memberID)
	return err
}

// ListGroupMembers returns memberships sorted by member id.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, role, wrapped_key FROM group_members
		 WHERE group_id = ? ORDER BY member_id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.MemberID, &m.Role, &m.WrappedKey); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetWrappedKey fetches one member's wrapped group key.
func (s *Store) GetWrappedKey(ctx context.Context, groupID, memberID string) (string, error) {
	var wk string
	err := s.db.QueryRowContext(ctx,
		`SELECT wrapped_key FROM group_members
		 WHERE group_id = ? AND member_id = ?`, groupID, memberID).Scan(&wk)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return wk, err
}

// PublicGroupVersion is the current key epoch of the shared channel.
func (s *Store) PublicGroupVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM groups WHERE group_id = ?`, PublicGroupID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return v, err
}

// BumpPublicVersion starts a new key epoch: the version increments and every
// member in rewrapped gets its new wrapped key, in one transaction.
func (s *Store) BumpPublicVersion(ctx context.Context, rewrapped map[string]string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE groups SET version = version + 1 WHERE group_id = ?`,
		PublicGroupID); err != nil {
		return 0, err
	}
	for memberID, wk := range rewrapped {
		if _, err := tx.ExecContext(ctx,
			`UPDATE group_members SET wrapped_key = ?
			 WHERE group_id = ? AND member_id = ?`,
			wk, PublicGroupID, memberID); err != nil {
			return 0, err
		}
	}

	var v int64
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM groups WHERE group_id = ?`, PublicGroupID).Scan(&v); err != nil {
		return 0, err
	}
	return v, tx.Commit()
}
