// Package sqlite provides a SQLite-backed calendar store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cyp0633/caldora-sched/itip"
	"github.com/cyp0633/caldora-sched/storage"
	"github.com/cyp0633/caldora-sched/storage/sqlite/migrations"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists calendar items in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite calendar store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) GetCalendarItemByUID(ctx context.Context, mailboxID, uid string) (*itip.CalendarItem, error) {
	return s.getItem(ctx, s.sqlDB, mailboxID, "uid", uid)
}

func (s *Store) GetCalendarItemByID(ctx context.Context, mailboxID, itemID string) (*itip.CalendarItem, error) {
	return s.getItem(ctx, s.sqlDB, mailboxID, "id", itemID)
}

func (s *Store) AddInvite(ctx context.Context, mailboxID, folderID string, inv itip.Invite, opts storage.AddInviteOptions) (storage.AddInviteResult, error) {
	if err := storage.ValidateInvite(mailboxID, inv); err != nil {
		return storage.AddInviteResult{}, err
	}

	var res storage.AddInviteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(s.now())
		item, err := s.getItem(ctx, tx, mailboxID, "uid", inv.UID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			item = &itip.CalendarItem{ID: uuid.NewString(), MailboxID: mailboxID, UID: inv.UID}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO calendar_items (mailbox_id, id, uid, folder_id, updated_at) VALUES (?, ?, ?, ?, ?)`,
				mailboxID, item.ID, item.UID, folderID, now,
			); err != nil {
				if isUniqueViolation(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("create calendar item: %w", err)
			}
		case err != nil:
			return err
		}

		res = storage.ApplyInvite(item, folderID, inv, opts)
		stored := item.Versions[len(item.Versions)-1]
		envelope, err := encodeInvite(stored, opts.Content)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invites (mailbox_id, item_id, invite_id, generation, envelope, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			mailboxID, item.ID, stored.ID, stored.Generation, envelope, now,
		); err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert invite: %w", err)
		}
		return s.updateCounters(ctx, tx, item, now)
	})
	return res, err
}

func (s *Store) RecordParticipation(ctx context.Context, mailboxID, itemID string, rec itip.ReplyRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		item, err := s.getItem(ctx, tx, mailboxID, "id", itemID)
		if err != nil {
			return err
		}
		if !storage.ApplyParticipation(item, rec) {
			return nil
		}
		envelope, err := encodeReply(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO replies (mailbox_id, item_id, lineage, address, envelope) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (mailbox_id, item_id, lineage, address) DO UPDATE SET envelope = excluded.envelope`,
			mailboxID, itemID, itip.LineageKey(rec.RecurID), itip.NormalizeAddress(rec.Address), envelope,
		); err != nil {
			return fmt.Errorf("upsert reply: %w", err)
		}
		return s.updateCounters(ctx, tx, item, toMillis(s.now()))
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getItem(ctx context.Context, q queryer, mailboxID, column, value string) (*itip.CalendarItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := &itip.CalendarItem{MailboxID: mailboxID}
	row := q.QueryRowContext(ctx,
		`SELECT id, uid, folder_id, modified_sequence, revision, generation
		 FROM calendar_items WHERE mailbox_id = ? AND `+column+` = ?`,
		mailboxID, value,
	)
	if err := row.Scan(&item.ID, &item.UID, &item.FolderID, &item.ModifiedSequence, &item.Revision, &item.Generation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", column, value, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get calendar item: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT invite_id, generation, envelope FROM invites
		 WHERE mailbox_id = ? AND item_id = ? ORDER BY invite_id`,
		mailboxID, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, generation int
			envelope       []byte
		)
		if err := rows.Scan(&id, &generation, &envelope); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		inv, err := decodeInvite(envelope)
		if err != nil {
			return nil, fmt.Errorf("invite %d: %w", id, err)
		}
		inv.ID, inv.Generation = id, generation
		item.Versions = append(item.Versions, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}

	replyRows, err := q.QueryContext(ctx,
		`SELECT envelope FROM replies WHERE mailbox_id = ? AND item_id = ? ORDER BY rowid`,
		mailboxID, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer replyRows.Close()
	for replyRows.Next() {
		var envelope []byte
		if err := replyRows.Scan(&envelope); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		rec, err := decodeReply(envelope)
		if err != nil {
			return nil, err
		}
		item.Replies = append(item.Replies, rec)
	}
	if err := replyRows.Err(); err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return item, nil
}

func (s *Store) updateCounters(ctx context.Context, tx *sql.Tx, item *itip.CalendarItem, now int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE calendar_items
		 SET folder_id = ?, modified_sequence = ?, revision = ?, generation = ?, updated_at = ?
		 WHERE mailbox_id = ? AND id = ?`,
		item.FolderID, item.ModifiedSequence, item.Revision, item.Generation, now,
		item.MailboxID, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update calendar item: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured: %w", storage.ErrStorageUnavailable)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

const migrationTable = "schema_migrations"

// applyMigrations executes each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var count int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, file).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if count > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := string(content)
		if i := strings.Index(up, "-- +migrate Down"); i >= 0 {
			up = up[:i]
		}
		up = strings.Replace(up, "-- +migrate Up", "", 1)

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}
