package trace

import (
	"context"
	"database/sql"
	"time"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/storedb"
)

const indexModule = "trace"

func indexMigrations() []storedb.Migration {
	return []storedb.Migration{
		{
			Version: 1,
			Name:    "create_frames",
			SQL: `
CREATE TABLE IF NOT EXISTS sessions (
  session TEXT PRIMARY KEY,
  version TEXT NOT NULL,
  started TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS frames (
  session TEXT NOT NULL REFERENCES sessions(session),
  seq INTEGER NOT NULL,
  dir TEXT NOT NULL,
  time TEXT NOT NULL,
  len INTEGER NOT NULL,
  unique_id INTEGER NOT NULL,
  opcode TEXT,
  nodeid INTEGER,
  error INTEGER,
  rejected TEXT,
  data BLOB NOT NULL,
  PRIMARY KEY (session, seq)
);
CREATE INDEX IF NOT EXISTS idx_frames_unique ON frames(session, unique_id);
CREATE INDEX IF NOT EXISTS idx_frames_opcode ON frames(opcode);
`,
		},
	}
}

// OpenIndex opens the SQLite index at path, creating its schema if needed.
func OpenIndex(path string) (*sql.DB, error) {
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       path,
		Module:     indexModule,
		Migrations: indexMigrations(),
	})
	if err != nil {
		return nil, errx.Wrap(ErrOpenIndex, err)
	}
	return db, nil
}

// Index loads every remaining frame of r into db in one transaction and
// returns the number of frames stored. Indexing the same session twice
// replaces its rows.
func Index(ctx context.Context, db *sql.DB, r *Reader) (int, error) {
	hdr := r.Header()
	session := hdr.Session.String()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errx.Wrap(ErrIndexFrame, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM frames WHERE session = ?`, session); err != nil {
		return 0, errx.Wrap(ErrIndexFrame, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions(session, version, started) VALUES (?, ?, ?)`,
		session, hdr.Version, hdr.Started.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, errx.Wrap(ErrIndexFrame, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO frames(session, seq, dir, time, len, unique_id, opcode, nodeid, error, rejected, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errx.Wrap(ErrIndexFrame, err)
	}
	defer stmt.Close()

	n := 0
	err = r.Each(func(f Frame) error {
		s := Summarize(f)
		var opcode, rejected sql.NullString
		var nodeID, errno sql.NullInt64
		if s.Valid && s.Dir == Request {
			opcode = sql.NullString{String: s.Opcode.String(), Valid: true}
			nodeID = sql.NullInt64{Int64: int64(s.NodeID), Valid: true}
		}
		if s.Valid && s.Dir == Reply {
			errno = sql.NullInt64{Int64: int64(s.Error), Valid: true}
		}
		if f.Err != "" {
			rejected = sql.NullString{String: f.Err, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			session, int64(f.Seq), f.Dir.String(), f.Time.UTC().Format(time.RFC3339Nano),
			int64(s.Len), int64(s.Unique), opcode, nodeID, errno, rejected, f.Data,
		); err != nil {
			return errx.Wrap(ErrIndexFrame, err)
		}
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errx.Wrap(ErrIndexFrame, err)
	}
	return n, nil
}
