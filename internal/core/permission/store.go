// Package permission implements node-based access control: plugins register
// permission nodes, grants are per (platform, user), and master users bypass
// every check.
package permission

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	tableNodes  = "permission_nodes"
	tableGrants = "user_permissions"
)

// Node is one registered permission node.
type Node struct {
	Name         string
	Plugin       string
	Description  string
	DefaultGrant bool
}

// Grant records one user holding one node.
type Grant struct {
	Platform  string
	UserID    string
	Node      string
	GrantedAt time.Time
}

// Store persists nodes and grants in sqlite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the permission database at path. ":memory:"
// works for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open permission db: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + tableNodes + ` (
			node_name TEXT PRIMARY KEY,
			plugin TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			default_grant INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tableGrants + ` (
			platform TEXT NOT NULL,
			user_id TEXT NOT NULL,
			node_name TEXT NOT NULL,
			granted_at INTEGER NOT NULL,
			PRIMARY KEY (platform, user_id, node_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_permissions_user ON ` + tableGrants + `(platform, user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec permission schema: %w", err)
		}
	}
	return nil
}

// RegisterNode upserts a node definition. Re-registration updates the
// description and default.
func (s *Store) RegisterNode(n Node) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO `+tableNodes+` (node_name, plugin, description, default_grant) VALUES (?, ?, ?, ?)`,
		n.Name, n.Plugin, n.Description, boolToInt(n.DefaultGrant))
	return err
}

// GetNode looks up a node definition.
func (s *Store) GetNode(name string) (Node, bool, error) {
	row := s.db.QueryRow(
		`SELECT node_name, plugin, description, default_grant FROM `+tableNodes+` WHERE node_name = ?`, name)
	var n Node
	var dflt int
	if err := row.Scan(&n.Name, &n.Plugin, &n.Description, &dflt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, false, nil
		}
		return Node{}, false, err
	}
	n.DefaultGrant = dflt != 0
	return n, true, nil
}

// ListNodes returns every registered node, name order.
func (s *Store) ListNodes() ([]Node, error) {
	rows, err := s.db.Query(
		`SELECT node_name, plugin, description, default_grant FROM ` + tableNodes + ` ORDER BY node_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		var dflt int
		if err := rows.Scan(&n.Name, &n.Plugin, &n.Description, &dflt); err != nil {
			return nil, err
		}
		n.DefaultGrant = dflt != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// AddGrant records a grant. Granting twice is idempotent.
func (s *Store) AddGrant(platform, userID, node string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO `+tableGrants+` (platform, user_id, node_name, granted_at) VALUES (?, ?, ?, ?)`,
		platform, userID, node, time.Now().UnixMilli())
	return err
}

// RemoveGrant revokes a grant and reports whether one existed.
func (s *Store) RemoveGrant(platform, userID, node string) (bool, error) {
	res, err := s.db.Exec(
		`DELETE FROM `+tableGrants+` WHERE platform = ? AND user_id = ? AND node_name = ?`,
		platform, userID, node)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// HasGrant reports whether the user holds an explicit grant for the node.
func (s *Store) HasGrant(platform, userID, node string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM `+tableGrants+` WHERE platform = ? AND user_id = ? AND node_name = ?`,
		platform, userID, node).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListGrants returns the nodes a user holds, name order.
func (s *Store) ListGrants(platform, userID string) ([]Grant, error) {
	rows, err := s.db.Query(
		`SELECT platform, user_id, node_name, granted_at FROM `+tableGrants+
			` WHERE platform = ? AND user_id = ? ORDER BY node_name`,
		platform, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		var at int64
		if err := rows.Scan(&g.Platform, &g.UserID, &g.Node, &at); err != nil {
			return nil, err
		}
		g.GrantedAt = time.UnixMilli(at)
		out = append(out, g)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
