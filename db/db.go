// Package db provides the local state store of gdcli: the persisted login session and
// the interactive shell history.
//
// Each query is held in an sql file in the `sql` directory which can be run on the
// sqlite command line. Declared `/* @param */` values are turned into sqlx named
// parameters when the files are prepared, as set out in parameterize.go.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

//go:embed sql
var SQLEmbeddedFS embed.FS

// ErrNoSession reports that no login session has been stored.
var ErrNoSession = errors.New("no stored session")

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt expecting the
// provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs checks that the arguments provided match those declared in the sql file.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("argument %q missing for named statement from %q", a, p.sqlFile)
		}
	}
	return nil
}

// Session is the persisted login session.
type Session struct {
	User      string `db:"user_name"`
	Profile   string `db:"profile"`
	State     string `db:"state"`
	SST       string `db:"sst"`
	SSTExpiry int64  `db:"sst_expiry"`
	Project   string `db:"project"`
	Updated   int64  `db:"updated"`
}

// Expiry returns the SST expiry time, zero if unknown.
func (s Session) Expiry() time.Time {
	if s.SSTExpiry == 0 {
		return time.Time{}
	}
	return time.Unix(s.SSTExpiry, 0).UTC()
}

// DB provides a wrapper around the sqlx connection for gdcli's db operations.
type DB struct {
	*sqlx.DB
	sqlFS fs.FS
	log   *slog.Logger

	// Prepared statements.
	sessionGetStmt    *parameterizedStmt
	sessionUpsertStmt *parameterizedStmt
	sessionDeleteStmt *parameterizedStmt

	historyInsertStmt *parameterizedStmt
	historyGetStmt    *parameterizedStmt
	historyTrimStmt   *parameterizedStmt
}

// NewConnection opens (creating if necessary) the sqlite database at dbPath, loads the
// schema from sqlFS and prepares the named statements. The database file is made
// readable only by its owner since it holds the session token.
func NewConnection(ctx context.Context, dbPath string, sqlFS fs.FS, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dataSource := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	inMemory := strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
	if inMemory {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain 'cache=shared'", dbPath)
		}
		dataSource = dbPath
	}

	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := dbDB.PingContext(ctx); err != nil {
		_ = dbDB.Close()
		return nil, err
	}

	db := &DB{
		DB:    sqlx.NewDb(dbDB, "sqlite"),
		sqlFS: sqlFS,
		log:   logger,
	}

	if err := db.InitSchema(ctx, sqlFS, "schema.sql"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !inMemory {
		if err := os.Chmod(dbPath, 0o600); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("could not restrict database permissions: %w", err)
		}
	}
	if err := db.prepareNamedStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	logger.Debug(fmt.Sprintf("NewConnection: opened %s", dbPath))
	return db, nil
}

// prepareNamedStatements prepares all the named statements for this database connection.
func (db *DB) prepareNamedStatements() error {
	var err error

	// Session.
	db.sessionGetStmt, err = db.prepNamedStatement(db.sqlFS, "session_get.sql")
	if err != nil {
		return fmt.Errorf("session get statement error: %w", err)
	}
	db.sessionUpsertStmt, err = db.prepNamedStatement(db.sqlFS, "session_upsert.sql")
	if err != nil {
		return fmt.Errorf("session upsert statement error: %w", err)
	}
	db.sessionDeleteStmt, err = db.prepNamedStatement(db.sqlFS, "session_delete.sql")
	if err != nil {
		return fmt.Errorf("session delete statement error: %w", err)
	}

	// History.
	db.historyInsertStmt, err = db.prepNamedStatement(db.sqlFS, "history_insert.sql")
	if err != nil {
		return fmt.Errorf("history insert statement error: %w", err)
	}
	db.historyGetStmt, err = db.prepNamedStatement(db.sqlFS, "history_get.sql")
	if err != nil {
		return fmt.Errorf("history get statement error: %w", err)
	}
	db.historyTrimStmt, err = db.prepNamedStatement(db.sqlFS, "history_trim.sql")
	if err != nil {
		return fmt.Errorf("history trim statement error: %w", err)
	}
	return nil
}

// prepNamedStatement parameterizes and prepares an sql file.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(ctx context.Context, fileFS fs.FS, filePath string) error {
	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}
	if _, err = db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// SessionGet returns the stored session, or ErrNoSession.
func (db *DB) SessionGet(ctx context.Context) (Session, error) {
	var s Session
	args := map[string]any{}
	if err := db.sessionGetStmt.verifyArgs(args); err != nil {
		return s, err
	}
	err := db.sessionGetStmt.GetContext(ctx, &s, args)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNoSession
	}
	if err != nil {
		return s, fmt.Errorf("session get error: %w", err)
	}
	return s, nil
}

// SessionUpsert stores the session, replacing any previous one.
func (db *DB) SessionUpsert(ctx context.Context, s Session) error {
	args := map[string]any{
		"UserName":  s.User,
		"Profile":   s.Profile,
		"State":     s.State,
		"SST":       s.SST,
		"SSTExpiry": s.SSTExpiry,
		"Project":   s.Project,
	}
	if err := db.sessionUpsertStmt.verifyArgs(args); err != nil {
		return err
	}
	if _, err := db.sessionUpsertStmt.ExecContext(ctx, args); err != nil {
		return fmt.Errorf("session upsert error: %w", err)
	}
	db.log.Debug(fmt.Sprintf("SessionUpsert: stored session for %q", s.User))
	return nil
}

// SessionDelete removes any stored session.
func (db *DB) SessionDelete(ctx context.Context) error {
	if _, err := db.sessionDeleteStmt.ExecContext(ctx, map[string]any{}); err != nil {
		return fmt.Errorf("session delete error: %w", err)
	}
	return nil
}

// HistoryAdd appends a shell line to the history, keeping at most keep lines.
func (db *DB) HistoryAdd(ctx context.Context, line string, keep int) error {
	insertArgs := map[string]any{"Line": line}
	if err := db.historyInsertStmt.verifyArgs(insertArgs); err != nil {
		return fmt.Errorf("history insert verification error: %w", err)
	}
	trimArgs := map[string]any{"HistorySize": keep}
	if err := db.historyTrimStmt.verifyArgs(trimArgs); err != nil {
		return fmt.Errorf("history trim verification error: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history transaction error: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.NamedStmtContext(ctx, db.historyInsertStmt.NamedStmt).ExecContext(ctx, insertArgs); err != nil {
		return fmt.Errorf("history insert error: %w", err)
	}
	if _, err := tx.NamedStmtContext(ctx, db.historyTrimStmt.NamedStmt).ExecContext(ctx, trimArgs); err != nil {
		return fmt.Errorf("history trim error: %w", err)
	}
	return tx.Commit()
}

// HistoryGet returns up to limit of the most recent shell lines, oldest first.
func (db *DB) HistoryGet(ctx context.Context, limit int) ([]string, error) {
	args := map[string]any{"HistoryLimit": limit}
	if err := db.historyGetStmt.verifyArgs(args); err != nil {
		return nil, err
	}
	var lines []string
	if err := db.historyGetStmt.SelectContext(ctx, &lines, args); err != nil {
		return nil, fmt.Errorf("history get error: %w", err)
	}
	return lines, nil
}
