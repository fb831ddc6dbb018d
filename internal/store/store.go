package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. It is constructed once and passed to
// whatever needs it; there is no package-level instance.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE (subject_id, code),
		FOREIGN KEY (subject_id) REFERENCES subjects(id)
	);

	CREATE TABLE IF NOT EXISTS papers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		session TEXT NOT NULL DEFAULT '',
		UNIQUE (subject_id, code),
		FOREIGN KEY (subject_id) REFERENCES subjects(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id INTEGER NOT NULL,
		number INTEGER NOT NULL DEFAULT 0,
		text TEXT NOT NULL,
		marks INTEGER NOT NULL DEFAULT 0,
		difficulty INTEGER NOT NULL DEFAULT 0,
		markscheme TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (paper_id) REFERENCES papers(id)
	);

	CREATE TABLE IF NOT EXISTS question_topics (
		question_id INTEGER NOT NULL,
		topic_id INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		PRIMARY KEY (question_id, topic_id),
		FOREIGN KEY (question_id) REFERENCES questions(id),
		FOREIGN KEY (topic_id) REFERENCES topics(id)
	);

	CREATE TABLE IF NOT EXISTS worksheets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL,
		topic_codes TEXT NOT NULL DEFAULT '[]',
		difficulties TEXT NOT NULL DEFAULT '[]',
		requested_count INTEGER NOT NULL,
		shuffle INTEGER NOT NULL DEFAULT 1,
		degraded INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (subject_id) REFERENCES subjects(id)
	);

	CREATE TABLE IF NOT EXISTS worksheet_items (
		worksheet_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (worksheet_id, position),
		UNIQUE (worksheet_id, question_id),
		FOREIGN KEY (worksheet_id) REFERENCES worksheets(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		daily_quota INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS bank_imports (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_questions_paper ON questions(paper_id);
	CREATE INDEX IF NOT EXISTS idx_question_topics_topic ON question_topics(topic_id);
	CREATE INDEX IF NOT EXISTS idx_worksheets_user ON worksheets(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
