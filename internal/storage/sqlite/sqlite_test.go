package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"timeinsight/internal/activity"
	"timeinsight/internal/storage"
)

func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_time_insight.db")
	store := NewSQLiteStore(dbPath)
	err := store.Init(context.Background())
	require.NoError(t, err, "Failed to initialize test database")

	cleanup := func() {
		err := store.Close()
		assert.NoError(t, err, "Failed to close test database")
	}
	return store, cleanup
}

func TestInitSeedsSessionTypesOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "seed.db")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		store := NewSQLiteStore(dbPath)
		require.NoError(t, store.Init(ctx))
		require.NoError(t, store.Close())
	}

	store := NewSQLiteStore(dbPath)
	require.NoError(t, store.Init(ctx))
	defer store.Close()

	rows, err := store.db.QueryContext(ctx, `SELECT id, name FROM user_session_type ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	got := map[int64]string{}
	for rows.Next() {
		var id int64
		var name string
		require.NoError(t, rows.Scan(&id, &name))
		got[id] = name
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[int64]string{1: "Active", 2: "Sleep"}, got)
}

func TestApplicationFindAndCreate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		app, err := tx.FindApplicationByName(ctx, "notepad.exe")
		require.NoError(t, err)
		assert.Nil(t, app)

		created, err := tx.CreateApplication(ctx, "notepad.exe", "notepad.exe", `C:\Windows\notepad.exe`, now)
		require.NoError(t, err)
		assert.Greater(t, created.ID, int64(0))

		found, err := tx.FindApplicationByName(ctx, "notepad.exe")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, *created, *found)
		assert.Equal(t, now, found.EnrollmentDate)
		return nil
	})
	require.NoError(t, err)
}

func TestApplicationNameIsUnique(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.CreateApplication(ctx, "calc.exe", "", "", now); err != nil {
			return err
		}
		_, err := tx.CreateApplication(ctx, "calc.exe", "", "", now)
		return err
	})
	assert.Error(t, err)
}

func TestActivityOpenCloseRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(90*time.Second + 250*time.Millisecond)

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		last, err := tx.LastActivity(ctx)
		require.NoError(t, err)
		assert.Nil(t, last)

		app, err := tx.CreateApplication(ctx, "code", "code", "/usr/bin/code", start)
		require.NoError(t, err)

		opened, err := tx.OpenActivity(ctx, app.ID, "main.go", "Foreground, PID: 42", start)
		require.NoError(t, err)
		assert.True(t, opened.Open())

		last, err = tx.LastActivity(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Open())
		assert.Equal(t, "main.go", last.WindowName)
		assert.Equal(t, "Foreground, PID: 42", last.AdditionalInfo)
		assert.Equal(t, start, *last.SessionStart)
		assert.Nil(t, last.Duration)

		require.NoError(t, tx.CloseActivity(ctx, last, end))
		assert.False(t, last.Open())
		return nil
	})
	require.NoError(t, err)

	got, err := store.ActivitiesBetween(ctx, start.Add(-time.Minute), end)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "code", got[0].ApplicationName)
	require.NotNil(t, got[0].SessionEnd)
	assert.Equal(t, end, *got[0].SessionEnd)
	require.NotNil(t, got[0].Duration)
	assert.InDelta(t, 90.25, *got[0].Duration, 1e-9)
}

func TestCloseActivityClampsNegativeDuration(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		app, err := tx.CreateApplication(ctx, "code", "", "", start)
		require.NoError(t, err)
		a, err := tx.OpenActivity(ctx, app.ID, "w", "", start)
		require.NoError(t, err)
		require.NoError(t, tx.CloseActivity(ctx, a, start.Add(-time.Second)))
		require.NotNil(t, a.Duration)
		assert.Equal(t, 0.0, *a.Duration)
		return nil
	})
	require.NoError(t, err)
}

func TestCloseActivityWithoutStart(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	// Legacy rows may lack a start time.
	_, err := store.db.ExecContext(ctx, `INSERT INTO application (name, enrollment_date) VALUES ('legacy', 0)`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `INSERT INTO application_activity (application_id, window_name) VALUES (1, 'old')`)
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		last, err := tx.LastActivity(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Nil(t, last.SessionStart)
		require.NoError(t, tx.CloseActivity(ctx, last, now))
		assert.Nil(t, last.Duration)
		assert.False(t, last.Open())
		return nil
	})
	require.NoError(t, err)
}

func TestSessionOpenClose(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		s, err := tx.OpenSession(ctx, activity.SessionActive, t0)
		require.NoError(t, err)
		require.NoError(t, tx.CloseSession(ctx, s, t0.Add(30*time.Minute)))
		_, err = tx.OpenSession(ctx, activity.SessionSleep, t0.Add(30*time.Minute))
		require.NoError(t, err)

		last, err := tx.LastSession(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, activity.SessionSleep, last.Type)
		assert.True(t, last.Open())
		return nil
	})
	require.NoError(t, err)

	sessions, err := store.SessionsBetween(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, activity.SessionActive, sessions[0].Type)
	require.NotNil(t, sessions[0].Duration)
	assert.Equal(t, 1800.0, *sessions[0].Duration)
	assert.Equal(t, activity.SessionSleep, sessions[1].Type)
	assert.Nil(t, sessions[1].SessionEnd)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.OpenSession(ctx, activity.SessionActive, now); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		last, err := tx.LastSession(ctx)
		require.NoError(t, err)
		assert.Nil(t, last, "rolled back session must not be visible")
		return nil
	})
	require.NoError(t, err)
}

func TestActivitiesBetweenFiltering(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t1.Add(5 * time.Minute)
	t4 := t1.Add(15 * time.Minute)

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		app, err := tx.CreateApplication(ctx, "term", "", "", t1)
		if err != nil {
			return err
		}
		for i, ts := range []time.Time{t1, t2, t3, t4} {
			if _, err := tx.OpenActivity(ctx, app.ID, string(rune('A'+i)), "", ts); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := store.ActivitiesBetween(ctx, t1, t4)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].WindowName)
	assert.Equal(t, "B", got[1].WindowName)
	assert.Equal(t, "C", got[2].WindowName)

	got, err = store.ActivitiesBetween(ctx, t4.Add(time.Hour), t4.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func TestCloseDB(t *testing.T) {
	store, cleanup := setupTestDB(t)
	cleanup()

	ctx := context.Background()
	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.OpenSession(ctx, activity.SessionActive, time.Now())
		return err
	})
	assert.Error(t, err) // sql: database is closed
}

func TestLastRowsFollowInsertionOrder(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	earlier := t0.Add(-10 * time.Second)

	err := store.WithinTx(ctx, func(tx storage.Tx) error {
		app, err := tx.CreateApplication(ctx, "a.exe", "a.exe", "/a", t0)
		require.NoError(t, err)
		_, err = tx.OpenActivity(ctx, app.ID, "first", "", t0)
		require.NoError(t, err)
		second, err := tx.OpenActivity(ctx, app.ID, "second", "", earlier)
		require.NoError(t, err)
		_, err = tx.OpenSession(ctx, activity.SessionActive, t0)
		require.NoError(t, err)
		sleep, err := tx.OpenSession(ctx, activity.SessionSleep, earlier)
		require.NoError(t, err)

		last, err := tx.LastActivity(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, last.ID)

		us, err := tx.LastSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, sleep.ID, us.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestInitReadOnly(t *testing.T) {
	writer, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	err := writer.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.OpenSession(ctx, activity.SessionActive, start)
		return err
	})
	require.NoError(t, err)

	reader := NewSQLiteStore(writer.dbPath)
	require.NoError(t, reader.InitReadOnly(ctx))
	defer reader.Close()

	sessions, err := reader.SessionsBetween(ctx, start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, activity.SessionActive, sessions[0].Type)

	err = reader.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.OpenSession(ctx, activity.SessionSleep, start)
		return err
	})
	assert.Error(t, err)

	sessions, err = writer.SessionsBetween(ctx, start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestInitReadOnlyMissingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "missing.db")
	store := NewSQLiteStore(dbPath)
	assert.Error(t, store.InitReadOnly(context.Background()))
	assert.NoFileExists(t, dbPath)
}
