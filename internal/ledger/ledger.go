// Package ledger persists what fleetup has learned about hosts: the latest
// probe result per host and which tools have been installed where.
//
// The ledger is an embedded SQLite file. Writes are single statements
// (insert-or-update, insert-or-ignore), so concurrent callers never race on a
// read-modify-write.
package ledger

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rileyhilliard/fleetup/internal/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS installations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	host         TEXT    NOT NULL,
	tool         TEXT    NOT NULL,
	installed_at INTEGER NOT NULL,
	UNIQUE(host, tool)
);
CREATE TABLE IF NOT EXISTS host_statuses (
	host                TEXT PRIMARY KEY,
	accessible          INTEGER,
	needs_sudo_password INTEGER,
	last_checked        INTEGER
);
`

// HostRecord is the cached probe result for one host.
type HostRecord struct {
	Alias           string
	Accessible      Tri
	NeedsCredential Tri
	LastCheckedAt   time.Time // zero iff Accessible is Unknown
}

// InstallationRecord marks a tool as installed on a host.
type InstallationRecord struct {
	Host        string
	Tool        string
	InstalledAt time.Time
}

// Ledger is a handle to the ledger file. Safe for concurrent use.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the ledger at path and ensures the schema
// exists. Parent directories are created.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ioError(err, fmt.Sprintf("Couldn't create ledger directory %s", dir))
		}
	}

	dsn, err := fileDSN(path)
	if err != nil {
		return nil, ioError(err, fmt.Sprintf("Couldn't resolve ledger path %s", path))
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ioError(err, fmt.Sprintf("Couldn't open ledger %s", path))
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ioError(err, fmt.Sprintf("Couldn't open ledger %s", path))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, ioError(err, fmt.Sprintf("Couldn't initialise ledger schema in %s", path))
	}

	return &Ledger{db: db, path: path, now: time.Now}, nil
}

// fileDSN builds the sqlite URI for path. The path is made absolute and
// escaped so '?', '#' and spaces stay part of the file name.
func fileDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		OmitHost: true,
		RawQuery: "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}
	return u.String(), nil
}

// Path returns the file the ledger was opened from.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return ioError(err, "Couldn't close ledger")
	}
	return nil
}

// UpsertHostStatus records a probe result for alias, stamped with the
// current time. Any previous record for alias is replaced.
func (l *Ledger) UpsertHostStatus(ctx context.Context, alias string, accessible bool, needsCredential Tri) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO host_statuses (host, accessible, needs_sudo_password, last_checked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			accessible = excluded.accessible,
			needs_sudo_password = excluded.needs_sudo_password,
			last_checked = excluded.last_checked`,
		alias, TriFromBool(accessible).value(), needsCredential.value(), l.now().Unix())
	if err != nil {
		return ioError(err, fmt.Sprintf("Couldn't save status for %s", alias))
	}
	return nil
}

// GetHostStatus returns the record for alias, or nil if it has never been probed.
func (l *Ledger) GetHostStatus(ctx context.Context, alias string) (*HostRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT host, accessible, needs_sudo_password, last_checked FROM host_statuses WHERE host = ?`, alias)
	rec, err := scanHostRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError(err, fmt.Sprintf("Couldn't read status for %s", alias))
	}
	return rec, nil
}

// ListHostStatuses returns every host record, ordered by alias.
func (l *Ledger) ListHostStatuses(ctx context.Context) ([]HostRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT host, accessible, needs_sudo_password, last_checked FROM host_statuses ORDER BY host`)
	if err != nil {
		return nil, ioError(err, "Couldn't list host statuses")
	}
	defer rows.Close()

	var out []HostRecord
	for rows.Next() {
		rec, err := scanHostRecord(rows)
		if err != nil {
			return nil, ioError(err, "Couldn't list host statuses")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError(err, "Couldn't list host statuses")
	}
	return out, nil
}

// ForgetHost deletes the host record for alias. Installation records are kept.
func (l *Ledger) ForgetHost(ctx context.Context, alias string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM host_statuses WHERE host = ?`, alias); err != nil {
		return ioError(err, fmt.Sprintf("Couldn't forget %s", alias))
	}
	return nil
}

// RecordInstallation marks tool as installed on host. Recording an existing
// pair is a no-op; the original timestamp is kept.
func (l *Ledger) RecordInstallation(ctx context.Context, host, tool string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO installations (host, tool, installed_at) VALUES (?, ?, ?)
		ON CONFLICT(host, tool) DO NOTHING`,
		host, tool, l.now().Unix())
	if err != nil {
		return ioError(err, fmt.Sprintf("Couldn't record %s on %s", tool, host))
	}
	return nil
}

// IsInstalled reports whether an installation record exists for (host, tool).
func (l *Ledger) IsInstalled(ctx context.Context, host, tool string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM installations WHERE host = ? AND tool = ? LIMIT 1`, host, tool).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ioError(err, fmt.Sprintf("Couldn't look up %s on %s", tool, host))
	}
	return true, nil
}

// RemoveInstallation deletes the record for (host, tool). Removing a
// missing record is a no-op.
func (l *Ledger) RemoveInstallation(ctx context.Context, host, tool string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM installations WHERE host = ? AND tool = ?`, host, tool); err != nil {
		return ioError(err, fmt.Sprintf("Couldn't remove %s on %s", tool, host))
	}
	return nil
}

// ListInstallations returns the installation records for host, or for every
// host when host is empty, ordered by host then tool.
func (l *Ledger) ListInstallations(ctx context.Context, host string) ([]InstallationRecord, error) {
	query := `SELECT host, tool, installed_at FROM installations`
	var args []interface{}
	if host != "" {
		query += ` WHERE host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY host, tool`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioError(err, "Couldn't list installations")
	}
	defer rows.Close()

	var out []InstallationRecord
	for rows.Next() {
		var rec InstallationRecord
		var ts int64
		if err := rows.Scan(&rec.Host, &rec.Tool, &ts); err != nil {
			return nil, ioError(err, "Couldn't list installations")
		}
		rec.InstalledAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ioError(err, "Couldn't list installations")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHostRecord(s scanner) (*HostRecord, error) {
	var (
		rec        HostRecord
		accessible sql.NullInt64
		needsCred  sql.NullInt64
		checked    sql.NullInt64
	)
	if err := s.Scan(&rec.Alias, &accessible, &needsCred, &checked); err != nil {
		return nil, err
	}
	rec.Accessible = triFromNull(accessible)
	rec.NeedsCredential = triFromNull(needsCred)
	if checked.Valid && rec.Accessible != Unknown {
		rec.LastCheckedAt = time.Unix(checked.Int64, 0)
	}
	return &rec, nil
}

func ioError(err error, message string) *errors.Error {
	return errors.WrapWithCode(err, errors.ErrLedger, message,
		"Check the ledger path is writable, or point 'ledger' in fleetup.yaml somewhere else.")
}
