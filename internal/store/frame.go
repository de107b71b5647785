package store

import (
	"database/sql"
	"math"

	"github.com/ayusman/lanefinder/internal/lane"
)

// SideResult is the tracker outcome for one lane line in one frame.
type SideResult struct {
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	Fit      *lane.Fit `json:"fit,omitempty"`
	RadiusM  *float64  `json:"radius_m"`
}

// FrameResult is the stored outcome of processing one frame.
type FrameResult struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"session_id"`
	FrameIndex int        `json:"frame_index"`
	Mode       string     `json:"mode"`
	SceneCut   bool       `json:"scene_cut"`
	Left       SideResult `json:"left"`
	Right      SideResult `json:"right"`
	OffsetM    *float64   `json:"offset_m"`
}

// FrameRepository stores per-frame lane results.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame result repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

// Add inserts one frame result. Non-finite radii are stored as NULL.
func (r *FrameRepository) Add(f *FrameResult) error {
	la, lb, lc := fitColumns(f.Left.Fit)
	ra, rb, rc := fitColumns(f.Right.Fit)

	result, err := r.db.Exec(
		`INSERT INTO frame_results (
			session_id, frame_index, mode, scene_cut,
			left_state, left_failures, left_a, left_b, left_c, left_radius,
			right_state, right_failures, right_a, right_b, right_c, right_radius,
			offset_m
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SessionID, f.FrameIndex, f.Mode, f.SceneCut,
		f.Left.State, f.Left.Failures, la, lb, lc, finiteColumn(f.Left.RadiusM),
		f.Right.State, f.Right.Failures, ra, rb, rc, finiteColumn(f.Right.RadiusM),
		finiteColumn(f.OffsetM),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

// ListBySession returns up to limit results of a session in frame order,
// starting at frame offset. A limit of 0 or less returns everything.
func (r *FrameRepository) ListBySession(sessionID string, offset, limit int) ([]*FrameResult, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, frame_index, mode, scene_cut,
			left_state, left_failures, left_a, left_b, left_c, left_radius,
			right_state, right_failures, right_a, right_b, right_c, right_radius,
			offset_m
		 FROM frame_results WHERE session_id = ? AND frame_index >= ?
		 ORDER BY frame_index LIMIT ?`,
		sessionID, offset, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*FrameResult
	for rows.Next() {
		f := &FrameResult{}
		var (
			la, lb, lc, lr sql.NullFloat64
			ra, rb, rc, rr sql.NullFloat64
			offset         sql.NullFloat64
		)
		err := rows.Scan(&f.ID, &f.SessionID, &f.FrameIndex, &f.Mode, &f.SceneCut,
			&f.Left.State, &f.Left.Failures, &la, &lb, &lc, &lr,
			&f.Right.State, &f.Right.Failures, &ra, &rb, &rc, &rr,
			&offset)
		if err != nil {
			return nil, err
		}
		f.Left.Fit = fitFromColumns(la, lb, lc)
		f.Left.RadiusM = floatFromColumn(lr)
		f.Right.Fit = fitFromColumns(ra, rb, rc)
		f.Right.RadiusM = floatFromColumn(rr)
		f.OffsetM = floatFromColumn(offset)
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the number of stored results for a session.
func (r *FrameRepository) Count(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM frame_results WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func fitColumns(f *lane.Fit) (a, b, c sql.NullFloat64) {
	if f == nil {
		return
	}
	return sql.NullFloat64{Float64: f.A, Valid: true},
		sql.NullFloat64{Float64: f.B, Valid: true},
		sql.NullFloat64{Float64: f.C, Valid: true}
}

func fitFromColumns(a, b, c sql.NullFloat64) *lane.Fit {
	if !a.Valid || !b.Valid || !c.Valid {
		return nil
	}
	return &lane.Fit{A: a.Float64, B: b.Float64, C: c.Float64}
}

func finiteColumn(v *float64) sql.NullFloat64 {
	if v == nil || math.IsInf(*v, 0) || math.IsNaN(*v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatFromColumn(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
