// Package store provides SQLite persistence for transcript snapshots.
// Each refresh cycle records the full transcript plus the GPA summary, so
// new grades can be detected by diffing against the previously known set.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/fduhole/fdusdk/fdu/grades"
)

// Store provides SQLite persistence for transcript snapshots.
type Store struct {
	db *sql.DB
}

// Snapshot is one recorded transcript state for a student.
type Snapshot struct {
	ID      int64
	UID     string
	TakenAt time.Time
	GPA     grades.GPA
	Courses []grades.CourseGrade
}

// New initializes a SQLite store at dbPath and runs migrations.
// WAL mode plus busy_timeout keeps concurrent readers from tripping over
// the refresh writer.
func New(dbPath string) (*Store, error) {
	// The _pragma form applies to every connection in the pool.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		gpa REAL NOT NULL DEFAULT 0,
		ranking INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		credits REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS snapshot_grades (
		snapshot_id INTEGER NOT NULL REFERENCES snapshots(id),
		code TEXT NOT NULL,
		year TEXT NOT NULL,
		semester TEXT NOT NULL,
		name TEXT NOT NULL,
		credit REAL NOT NULL DEFAULT 0,
		grade TEXT NOT NULL,
		point REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, code)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_uid_taken ON snapshots(uid, taken_at);
	CREATE INDEX IF NOT EXISTS idx_snapshot_grades_code ON snapshot_grades(code);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot records a transcript snapshot atomically and returns its id.
func (s *Store) SaveSnapshot(ctx context.Context, uid string, takenAt time.Time, gpa grades.GPA, courses []grades.CourseGrade) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO snapshots (uid, taken_at, gpa, ranking, total, percentage, credits)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uid, takenAt.Format(time.RFC3339), gpa.GPA, gpa.Ranking, gpa.Total, gpa.Percentage, gpa.Credits)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	for _, course := range courses {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_grades (snapshot_id, code, year, semester, name, credit, grade, point)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_id, code) DO UPDATE SET
			name = excluded.name,
			credit = excluded.credit,
			grade = excluded.grade,
			point = excluded.point
		`, id, course.Code, course.Year, course.Semester, course.Name, course.Credit, course.Grade, course.Point)
		if err != nil {
			return 0, fmt.Errorf("insert grade %s: %w", course.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recent snapshot for a student, or nil
// when none has been recorded yet.
func (s *Store) LatestSnapshot(ctx context.Context, uid string) (*Snapshot, error) {
	var (
		snap       Snapshot
		takenAtStr string
	)

	err := s.db.QueryRowContext(ctx, `
	SELECT id, uid, taken_at, gpa, ranking, total, percentage, credits
	FROM snapshots
	WHERE uid = ?
	ORDER BY taken_at DESC, id DESC
	LIMIT 1
	`, uid).Scan(&snap.ID, &snap.UID, &takenAtStr, &snap.GPA.GPA, &snap.GPA.Ranking, &snap.GPA.Total, &snap.GPA.Percentage, &snap.GPA.Credits)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap.TakenAt, err = time.Parse(time.RFC3339, takenAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse taken_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT code, year, semester, name, credit, grade, point
	FROM snapshot_grades
	WHERE snapshot_id = ?
	ORDER BY code
	`, snap.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var course grades.CourseGrade
		if err := rows.Scan(&course.Code, &course.Year, &course.Semester, &course.Name, &course.Credit, &course.Grade, &course.Point); err != nil {
			return nil, err
		}
		snap.Courses = append(snap.Courses, course)
	}

	return &snap, rows.Err()
}

// KnownCodes returns the set of course codes ever recorded for a student,
// across all snapshots. Used to detect newly published grades.
func (s *Store) KnownCodes(ctx context.Context, uid string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT DISTINCT g.code
	FROM snapshot_grades g
	JOIN snapshots s ON s.id = g.snapshot_id
	WHERE s.uid = ?
	`, uid)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes[code] = struct{}{}
	}

	return codes, rows.Err()
}

// SnapshotCount returns the number of snapshots recorded for a student.
func (s *Store) SnapshotCount(ctx context.Context, uid string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE uid = ?`, uid).Scan(&n)
	return n, err
}

// Prune removes all but the newest keep snapshots for a student.
func (s *Store) Prune(ctx context.Context, uid string, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	DELETE FROM snapshot_grades
	WHERE snapshot_id IN (
		SELECT id FROM snapshots
		WHERE uid = ?
		ORDER BY taken_at DESC, id DESC
		LIMIT -1 OFFSET ?
	)
	`, uid, keep)
	if err != nil {
		return fmt.Errorf("prune grades: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	DELETE FROM snapshots
	WHERE id IN (
		SELECT id FROM snapshots
		WHERE uid = ?
		ORDER BY taken_at DESC, id DESC
		LIMIT -1 OFFSET ?
	)
	`, uid, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}

	return tx.Commit()
}
