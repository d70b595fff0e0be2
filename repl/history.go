package repl

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// History persists REPL input lines to a SQLite database. Each REPL run is
// one session, identified by a UUID, so history can be inspected per run.
type History struct {
	db      *sql.DB
	session string
}

// OpenHistory opens (and if needed creates) the history database.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session    TEXT NOT NULL,
		line       TEXT NOT NULL,
		entered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history table: %w", err)
	}

	return &History{
		db:      db,
		session: uuid.NewString(),
	}, nil
}

// Session returns this run's session identifier.
func (h *History) Session() string {
	return h.session
}

// Append records one input line under the current session.
func (h *History) Append(line string) error {
	_, err := h.db.Exec(
		"INSERT INTO history (session, line) VALUES (?, ?)",
		h.session, line,
	)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent lines across all sessions,
// oldest first.
func (h *History) Recent(n int) ([]string, error) {
	rows, err := h.db.Query(
		"SELECT line FROM (SELECT id, line FROM history ORDER BY id DESC LIMIT ?) ORDER BY id",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Close releases the database handle.
func (h *History) Close() error {
	return h.db.Close()
}
