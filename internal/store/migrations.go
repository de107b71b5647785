package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per processed stream
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
			frames INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Lane result of every frame; fit and geometry columns are NULL
		// until a lane has been acquired
		`CREATE TABLE IF NOT EXISTS frame_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			frame_index INTEGER NOT NULL,
			mode TEXT NOT NULL,
			scene_cut INTEGER NOT NULL DEFAULT 0,
			left_state TEXT NOT NULL,
			left_failures INTEGER NOT NULL DEFAULT 0,
			left_a REAL, left_b REAL, left_c REAL,
			left_radius REAL,
			right_state TEXT NOT NULL,
			right_failures INTEGER NOT NULL DEFAULT 0,
			right_a REAL, right_b REAL, right_c REAL,
			right_radius REAL,
			offset_m REAL,
			UNIQUE(session_id, frame_index)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_frame_results_session_id ON frame_results(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
