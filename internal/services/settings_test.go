package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTplFallsBackToDefaults(t *testing.T) {
	store := newTestStore(t)
	settings := NewSettings(store)
	ctx := context.Background()

	require.Equal(t, "#0d6efd", settings.Tpl(ctx, "color_navbar"))
	require.NoError(t, settings.Set(ctx, "color_navbar", "#123456"))
	require.Equal(t, "#123456", settings.Tpl(ctx, "color_navbar"))
}

func TestDetectTheme(t *testing.T) {
	store := newTestStore(t)
	settings := NewSettings(store)
	ctx := context.Background()

	require.Equal(t, "default", settings.DetectTheme(ctx))

	require.NoError(t, settings.ApplyTheme(ctx, "ocean"))
	require.Equal(t, "ocean", settings.DetectTheme(ctx))

	require.NoError(t, settings.Set(ctx, "color_navbar", "#000001"))
	require.Equal(t, "custom", settings.DetectTheme(ctx))

	require.Error(t, settings.ApplyTheme(ctx, "neon"))
}

func TestApplyTemplate(t *testing.T) {
	got := ApplyTemplate("Hi [Name], balance on [Date]", map[string]string{
		"Name": "Alice",
		"Date": "2026-03-10",
	})
	require.Equal(t, "Hi Alice, balance on 2026-03-10", got)

	// Unknown placeholders stay as-is.
	require.Equal(t, "[Other]", ApplyTemplate("[Other]", map[string]string{"Name": "x"}))
}

func TestTimezoneFallsBackToUTC(t *testing.T) {
	store := newTestStore(t)
	settings := NewSettings(store)
	ctx := context.Background()

	require.NoError(t, settings.Set(ctx, "timezone", "Not/AZone"))
	require.Equal(t, "UTC", settings.Timezone(ctx).String())
}
