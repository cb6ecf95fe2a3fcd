package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"timeinsight/internal/activity"
)

type sqliteTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *sqliteTx) FindApplicationByName(ctx context.Context, name string) (*activity.Application, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, name, "desc", path, enrollment_date FROM application WHERE name = ?`, name)
	app, err := scanApplication(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find application %q: %w", name, err)
	}
	return app, nil
}

func (t *sqliteTx) FindApplicationByID(ctx context.Context, id int64) (*activity.Application, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, name, "desc", path, enrollment_date FROM application WHERE id = ?`, id)
	app, err := scanApplication(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find application %d: %w", id, err)
	}
	return app, nil
}

// scanApplication returns (nil, nil) for no row.
func scanApplication(row scanner) (*activity.Application, error) {
	var app activity.Application
	var desc, path sql.NullString
	var enrolled int64
	if err := row.Scan(&app.ID, &app.Name, &desc, &path, &enrolled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	app.Desc = desc.String
	app.Path = path.String
	app.EnrollmentDate = time.UnixMilli(enrolled).UTC()
	return &app, nil
}

func (t *sqliteTx) CreateApplication(ctx context.Context, name, desc, path string, enrolled time.Time) (*activity.Application, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO application (name, "desc", path, enrollment_date) VALUES (?, ?, ?, ?)`,
		name, desc, path, enrolled.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert application %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return &activity.Application{
		ID:             id,
		Name:           name,
		Desc:           desc,
		Path:           path,
		EnrollmentDate: time.UnixMilli(enrolled.UnixMilli()).UTC(),
	}, nil
}

func (t *sqliteTx) LastActivity(ctx context.Context) (*activity.ApplicationActivity, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, application_id, window_name, additional_info, session_start, session_end, duration
		 FROM application_activity
		 ORDER BY id DESC
		 LIMIT 1`)
	a, err := scanActivity(row, nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (t *sqliteTx) CloseActivity(ctx context.Context, a *activity.ApplicationActivity, end time.Time) error {
	duration := closingDuration("activity", a.ID, a.SessionStart, end)
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE application_activity SET session_end = ?, duration = ? WHERE id = ?`,
		end.UnixMilli(), nullFloat(duration), a.ID); err != nil {
		return fmt.Errorf("failed to close activity %d: %w", a.ID, err)
	}
	a.SessionEnd = &end
	a.Duration = duration
	return nil
}

func (t *sqliteTx) OpenActivity(ctx context.Context, applicationID int64, windowName, info string, start time.Time) (*activity.ApplicationActivity, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO application_activity (application_id, window_name, additional_info, session_start)
		 VALUES (?, ?, ?, ?)`,
		applicationID, windowName, info, start.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return &activity.ApplicationActivity{
		ID:             id,
		ApplicationID:  applicationID,
		WindowName:     windowName,
		AdditionalInfo: info,
		SessionStart:   &start,
	}, nil
}

func (t *sqliteTx) LastSession(ctx context.Context) (*activity.UserSession, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, user_session_type_id, session_start, session_end, duration
		 FROM user_session
		 ORDER BY id DESC
		 LIMIT 1`)
	us, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return us, err
}

func (t *sqliteTx) CloseSession(ctx context.Context, s *activity.UserSession, end time.Time) error {
	duration := closingDuration("session", s.ID, s.SessionStart, end)
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE user_session SET session_end = ?, duration = ? WHERE id = ?`,
		end.UnixMilli(), nullFloat(duration), s.ID); err != nil {
		return fmt.Errorf("failed to close session %d: %w", s.ID, err)
	}
	s.SessionEnd = &end
	s.Duration = duration
	return nil
}

func (t *sqliteTx) OpenSession(ctx context.Context, st activity.SessionType, start time.Time) (*activity.UserSession, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_session (user_session_type_id, session_start) VALUES (?, ?)`,
		int64(st), start.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s session: %w", st, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return &activity.UserSession{ID: id, Type: st, SessionStart: &start}, nil
}

// closingDuration returns nil when the row has no start to measure from.
func closingDuration(kind string, id int64, start *time.Time, end time.Time) *float64 {
	if start == nil {
		log.Printf("Warning: %s %d has no session_start, closing without duration", kind, id)
		return nil
	}
	secs, clamped := activity.Duration(*start, end)
	if clamped {
		log.Printf("Warning: %s %d ends before it starts (%s < %s), duration clamped to 0",
			kind, id, end.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	return &secs
}

// scanActivity reads the seven activity columns, plus the application name
// when appName is non-nil.
func scanActivity(row scanner, appName *string) (*activity.ApplicationActivity, error) {
	var a activity.ApplicationActivity
	var info sql.NullString
	var start, end sql.NullInt64
	var duration sql.NullFloat64

	dest := []any{&a.ID, &a.ApplicationID, &a.WindowName, &info, &start, &end, &duration}
	if appName != nil {
		dest = append(dest, appName)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan activity row: %w", err)
	}
	a.AdditionalInfo = info.String
	a.SessionStart = nullTime(start)
	a.SessionEnd = nullTime(end)
	if duration.Valid {
		a.Duration = &duration.Float64
	}
	return &a, nil
}

func scanSession(row scanner) (*activity.UserSession, error) {
	var us activity.UserSession
	var typeID int64
	var start, end sql.NullInt64
	var duration sql.NullFloat64

	if err := row.Scan(&us.ID, &typeID, &start, &end, &duration); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}
	us.Type = activity.SessionType(typeID)
	us.SessionStart = nullTime(start)
	us.SessionEnd = nullTime(end)
	if duration.Valid {
		us.Duration = &duration.Float64
	}
	return &us, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
