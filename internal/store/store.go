// Package store persists the identity and membership facts the real-time
// core's authorization depends on. It implements pubsub.Directory; the broker
// itself never touches the database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQL database with the queries the real-time layer needs.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// User is an account row. PasswordHash is a bcrypt hash.
type User struct {
	ID           string
	Email        string
	Username     string
	FullName     string
	PasswordHash string
	IsActive     bool
}

// Workspace is a workspace row.
type Workspace struct {
	ID      string
	Name    string
	OwnerID string
}

// CreateUser inserts a new active user and returns it.
func (s *Store) CreateUser(ctx context.Context, email, username, fullName, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, full_name, password_hash) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.FullName, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the user with the given email, or ErrNotFound.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, full_name, password_hash, is_active FROM users WHERE email = ?`,
		email).Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.PasswordHash, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	u.IsActive = active != 0
	return u, nil
}

// UserExists reports whether an active user with the given ID exists.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE id = ? AND is_active = 1`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return true, nil
}

// CreateWorkspace inserts a workspace and enrolls the owner as an active member.
func (s *Store) CreateWorkspace(ctx context.Context, name, ownerID string) (*Workspace, error) {
	w := &Workspace{ID: uuid.NewString(), Name: name, OwnerID: ownerID}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, owner_id) VALUES (?, ?, ?)`,
		w.ID, w.Name, w.OwnerID); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES (?, ?, 'owner')`,
		w.ID, w.OwnerID); err != nil {
		return nil, fmt.Errorf("enroll owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return w, nil
}

// AddMember enrolls (or re-activates) a user in a workspace.
func (s *Store) AddMember(ctx context.Context, workspaceID, userID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role, is_active = 1`,
		workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deactivates a membership. The row is kept for audit purposes;
// only is_active drives authorization.
func (s *Store) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workspace_members SET is_active = 0 WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// IsWorkspaceMember reports whether userID holds an active membership in workspaceID.
func (s *Store) IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM workspace_members WHERE workspace_id = ? AND user_id = ? AND is_active = 1`,
		workspaceID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return true, nil
}

// WorkspaceIDsForUser returns the IDs of workspaces the user is an active member of.
func (s *Store) WorkspaceIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id FROM workspace_members WHERE user_id = ? AND is_active = 1 ORDER BY workspace_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("workspaces for user: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("workspaces for user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
