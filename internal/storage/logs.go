package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// InsertLocation appends one fix captured at ts and returns its id.
func (s *DB) InsertLocation(ctx context.Context, lat, lon float64, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO location_logs (latitude, longitude, timestamp) VALUES (?, ?, ?)`,
		lat, lon, ts.UTC().UnixNano())
	if err != nil {
		return 0, apperrors.Storage("append location", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Storage("append location", err)
	}
	return id, nil
}

// ListLocations returns fixes newest first.
func (s *DB) ListLocations(ctx context.Context, limit, offset int) ([]domain.LocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, timestamp FROM location_logs
		 ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, apperrors.Storage("list locations", err)
	}
	defer rows.Close()

	var out []domain.LocationRecord
	for rows.Next() {
		var (
			rec domain.LocationRecord
			ns  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Latitude, &rec.Longitude, &ns); err != nil {
			return nil, apperrors.Storage("scan location", err)
		}
		rec.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list locations", err)
	}
	return out, nil
}

// DeleteLocationsBefore deletes every fix with timestamp strictly before
// cutoff and returns how many were removed.
func (s *DB) DeleteLocationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM location_logs WHERE timestamp < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, apperrors.Storage("prune locations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("prune locations", err)
	}
	return n, nil
}

// CountLocations returns the number of stored fixes.
func (s *DB) CountLocations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM location_logs`).Scan(&n); err != nil {
		return 0, apperrors.Storage("count locations", err)
	}
	return n, nil
}

// InsertAlert records one dispatch outcome.
func (s *DB) InsertAlert(ctx context.Context, a domain.AlertRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_logs (batch_id, contact, message, sent_at, error_text) VALUES (?, ?, ?, ?, ?)`,
		a.BatchID, a.Contact, a.Message, a.SentAt.UTC().UnixNano(), a.Error)
	if err != nil {
		return 0, apperrors.Storage("record alert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Storage("record alert", err)
	}
	return id, nil
}

// ListAlerts returns dispatch outcomes newest first.
func (s *DB) ListAlerts(ctx context.Context, limit int) ([]domain.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, contact, message, sent_at, error_text FROM alert_logs
		 ORDER BY sent_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Storage("list alerts", err)
	}
	defer rows.Close()

	var out []domain.AlertRecord
	for rows.Next() {
		var (
			a  domain.AlertRecord
			ns int64
		)
		if err := rows.Scan(&a.ID, &a.BatchID, &a.Contact, &a.Message, &ns, &a.Error); err != nil {
			return nil, apperrors.Storage("scan alert", err)
		}
		a.SentAt = time.Unix(0, ns).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list alerts", err)
	}
	return out, nil
}

// LastAlert returns the most recent successful dispatch time, if any.
func (s *DB) LastAlert(ctx context.Context) (time.Time, bool, error) {
	var ns sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sent_at) FROM alert_logs WHERE error_text = ''`).Scan(&ns)
	if err != nil {
		return time.Time{}, false, apperrors.Storage("read last alert", err)
	}
	if !ns.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns.Int64).UTC(), true, nil
}
