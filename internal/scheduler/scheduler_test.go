package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobSpecCronSpec(t *testing.T) {
	spec := JobSpec{Day: "mon", Hour: 9, Minute: 30, Location: time.UTC}
	require.Equal(t, "CRON_TZ=UTC 30 9 * * mon", spec.cronSpec())

	daily := JobSpec{Day: "*", Hour: 3, Minute: 0, Location: time.UTC}
	require.Equal(t, "CRON_TZ=UTC 0 3 * * *", daily.cronSpec())
}

func TestInstallReplacesExistingJob(t *testing.T) {
	s := New()
	spec := JobSpec{Day: "*", Hour: 3, Minute: 0, Location: time.UTC}

	require.NoError(t, s.Install("job", spec, func() {}))
	require.NoError(t, s.Install("job", spec, func() {}))
	require.True(t, s.Has("job"))
	require.Len(t, s.cron.Entries(), 1)
}

func TestInstallRejectsBadDayToken(t *testing.T) {
	s := New()
	spec := JobSpec{Day: "someday", Hour: 3, Minute: 0, Location: time.UTC}
	require.Error(t, s.Install("job", spec, func() {}))
	require.False(t, s.Has("job"))
}

func TestRemove(t *testing.T) {
	s := New()
	spec := JobSpec{Day: "fri", Hour: 12, Minute: 15, Location: time.UTC}

	require.NoError(t, s.Install("job", spec, func() {}))
	s.Remove("job")
	require.False(t, s.Has("job"))
	require.Empty(t, s.cron.Entries())

	s.Remove("missing") // no-op
}
