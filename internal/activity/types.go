package activity

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

type SessionType int64

const (
	SessionActive SessionType = 1
	SessionSleep  SessionType = 2
)

func (t SessionType) String() string {
	switch t {
	case SessionActive:
		return "Active"
	case SessionSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

// SessionTypes is the fixed lookup seeded into user_session_type.
var SessionTypes = []SessionType{SessionActive, SessionSleep}

// Application is one row per distinct process name ever observed.
type Application struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"` // process executable name, unique
	Desc           string    `db:"desc"`
	Path           string    `db:"path"`
	EnrollmentDate time.Time `db:"enrollment_date"`
}

// ApplicationActivity is a contiguous interval during which WindowName was in the foreground.
// A nil SessionEnd marks the row as open.
type ApplicationActivity struct {
	ID             int64      `db:"id"`
	ApplicationID  int64      `db:"application_id"`
	WindowName     string     `db:"window_name"`
	AdditionalInfo string     `db:"additional_info"`
	SessionStart   *time.Time `db:"session_start"` // nil only for malformed legacy rows
	SessionEnd     *time.Time `db:"session_end"`
	Duration       *float64   `db:"duration"` // seconds

	// Filled by range queries only.
	ApplicationName string `db:"-"`
}

func (a *ApplicationActivity) Open() bool { return a != nil && a.SessionEnd == nil }

type UserSession struct {
	ID           int64       `db:"id"`
	Type         SessionType `db:"user_session_type_id"`
	SessionStart *time.Time  `db:"session_start"`
	SessionEnd   *time.Time  `db:"session_end"`
	Duration     *float64    `db:"duration"`
}

func (s *UserSession) Open() bool { return s != nil && s.SessionEnd == nil }

// Observation is what the window observer reports for the foreground window.
type Observation struct {
	Title       string
	ProcessName string
	ProcessPath string
	ProcessID   int
}

// Complete reports whether every field was available. Incomplete
// observations are skipped by the tracker.
func (o *Observation) Complete() bool {
	return o != nil && o.Title != "" && o.ProcessName != "" && o.ProcessPath != "" && o.ProcessID > 0
}

// Now returns the current instant in UTC at millisecond precision, which is
// the precision instants are stored with.
func Now(c clockwork.Clock) time.Time {
	return c.Now().UTC().Truncate(time.Millisecond)
}

// Duration returns end - start in seconds rounded to 3 decimals. A negative
// interval (clock moved backwards) is clamped to zero; clamped reports it.
func Duration(start, end time.Time) (secs float64, clamped bool) {
	d := end.Sub(start)
	if d < 0 {
		return 0, true
	}
	return math.Round(d.Seconds()*1000) / 1000, false
}
