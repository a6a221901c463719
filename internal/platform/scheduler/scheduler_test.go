package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_DailyRegistersJob(t *testing.T) {
	loc := time.FixedZone("CST", 8*60*60)

	s := New(loc)
	require.NoError(t, s.Daily("download:cn", "06:30", func(ctx context.Context) error { return nil }))

	s.Start()
	defer s.Stop()

	next, err := s.NextRun("download:cn")
	require.NoError(t, err)
	local := next.In(loc)
	assert.Equal(t, 6, local.Hour())
	assert.Equal(t, 30, local.Minute())
	assert.True(t, next.After(time.Now()))
	assert.True(t, time.Until(next) <= 24*time.Hour)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(time.UTC)

	done := make(chan struct{})
	require.NoError(t, s.Daily("download:us", "21:00", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		close(done)
		return errors.New("already running")
	}))

	s.Start()
	defer s.Stop()

	require.NoError(t, s.RunNow("download:us"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_RunAll(t *testing.T) {
	s := New(time.UTC)

	ran := make(chan string, 2)
	for _, name := range []string{"download:us", "download:cn"} {
		name := name
		require.NoError(t, s.Daily(name, "21:00", func(ctx context.Context) error {
			ran <- name
			return nil
		}))
	}

	s.Start()
	defer s.Stop()

	require.NoError(t, s.RunAll())
	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case name := <-ran:
			got[name] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("jobs did not run: %v", got)
		}
	}
}

func TestScheduler_InvalidTime(t *testing.T) {
	s := New(time.UTC)
	err := s.Daily("bad", "25:61", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := New(time.UTC)
	_, err := s.NextRun("missing")
	assert.Error(t, err)
	assert.Error(t, s.RunNow("missing"))
}
