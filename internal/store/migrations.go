package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per detect-and-signal cycle
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			device TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL DEFAULT '',
			bottle_detected INTEGER NOT NULL DEFAULT 0,
			frames INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			matched_label TEXT NOT NULL DEFAULT '',
			matched_confidence REAL NOT NULL DEFAULT 0,
			stop_reason TEXT NOT NULL DEFAULT '',
			points INTEGER,
			status TEXT NOT NULL CHECK(status IN ('completed', 'ack_timeout', 'failed')),
			error TEXT NOT NULL DEFAULT ''
		)`,

		// Ack lines table - status lines the board sent before SELESAI
		`CREATE TABLE IF NOT EXISTS run_ack_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			line TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_ack_lines_run_id ON run_ack_lines(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
