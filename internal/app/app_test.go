package app_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madello/paarvai/internal/app"
	"github.com/madello/paarvai/internal/conf"
	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/logger"
	"github.com/madello/paarvai/internal/seed"
	"github.com/madello/paarvai/internal/testutil"
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// testSettings returns validated defaults with the web server off and a
// fast, reproducible simulator.
func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings, _, err := conf.Load(conf.LoadOptions{SearchPaths: []string{t.TempDir()}})
	require.NoError(t, err)

	settings.Main.Timezone = "UTC"
	settings.WebServer.Enabled = false
	settings.Metrics.Enabled = true
	settings.Simulator.Enabled = true
	settings.Simulator.Interval = 10 * time.Millisecond
	settings.Simulator.SeedCount = 5
	settings.Simulator.RandomSeed = 42
	return settings
}

func TestAppRunsSimulatorIntoFeed(t *testing.T) {
	settings := testSettings(t)

	a, err := app.New(settings, app.WithLogger(quietLogger()),
		app.WithClock(func() time.Time { return testutil.BaseTime }))
	require.NoError(t, err)
	require.NotNil(t, a.Simulator)
	assert.Nil(t, a.Server)
	assert.Nil(t, a.MQTT)
	assert.Nil(t, a.Alerts)

	require.Len(t, a.Seed(), 5)
	assert.Equal(t, "DET-1000", a.Seed()[0].ID)

	require.NoError(t, a.Start(t.Context()))
	defer func() { require.NoError(t, a.Stop()) }()

	snap, err := a.Feed.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "DET-1000", snap.SelectedID, "first seed record is selected")

	testutil.Eventually(t, func() bool {
		records, err := a.Feed.Records(t.Context())
		return err == nil && len(records) > 5
	}, testutil.DefaultTestTimeout, "simulator should add live records")

	records, err := a.Feed.Records(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "DET-1005", records[len(records)-6].ID, "live ids continue after the seed")

	testutil.Eventually(t, func() bool {
		for _, c := range a.Cameras.List() {
			if c.Detections > 0 {
				return true
			}
		}
		return false
	}, testutil.DefaultTestTimeout, "cameras should observe live records")
}

func TestAppRunStopsOnCancel(t *testing.T) {
	settings := testSettings(t)
	settings.Alerts.Enabled = true
	settings.Alerts.URLs = []string{"logger://"}

	a, err := app.New(settings, app.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, a.Alerts)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	testutil.Eventually(t, a.Simulator.Running, testutil.DefaultTestTimeout, "simulator should start")
	cancel()

	err = testutil.Receive(t, done, testutil.DefaultTestTimeout)
	require.NoError(t, err)
	assert.False(t, a.Simulator.Running())
}

func TestAppLoadsSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, seed.Save(path, []detection.Record{
		testutil.Record("S-2", testutil.At(testutil.BaseTime.Add(time.Minute))),
		testutil.Record("S-1"),
	}, testutil.BaseTime))

	settings := testSettings(t)
	settings.Simulator.Enabled = false
	settings.Seed.File = path

	a, err := app.New(settings, app.WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Nil(t, a.Simulator)

	require.NoError(t, a.Start(t.Context()))
	defer func() { require.NoError(t, a.Stop()) }()

	records, err := a.Feed.Records(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "S-2", records[0].ID)
}

func TestAppLiveIDsContinueAfterSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, seed.Save(path, []detection.Record{
		testutil.Record("DET-1001", testutil.At(testutil.BaseTime.Add(time.Minute))),
		testutil.Record("DET-5000"),
	}, testutil.BaseTime))

	settings := testSettings(t)
	settings.Seed.File = path

	a, err := app.New(settings, app.WithLogger(quietLogger()),
		app.WithClock(func() time.Time { return testutil.BaseTime.Add(time.Hour) }))
	require.NoError(t, err)

	require.NoError(t, a.Start(t.Context()))
	defer func() { require.NoError(t, a.Stop()) }()

	testutil.Eventually(t, func() bool {
		records, err := a.Feed.Records(t.Context())
		return err == nil && len(records) > 2
	}, testutil.DefaultTestTimeout, "live records should not be dropped as duplicates")

	records, err := a.Feed.Records(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "DET-5001", records[len(records)-3].ID)
}

func TestAppConstructionErrors(t *testing.T) {
	t.Run("nil settings", func(t *testing.T) {
		_, err := app.New(nil)
		require.Error(t, err)
	})

	t.Run("missing seed file", func(t *testing.T) {
		settings := testSettings(t)
		settings.Seed.File = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := app.New(settings, app.WithLogger(quietLogger()))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	})

	t.Run("bad timezone", func(t *testing.T) {
		settings := testSettings(t)
		settings.Main.Timezone = "Mars/Olympus"
		_, err := app.New(settings, app.WithLogger(quietLogger()))
		require.Error(t, err)
	})

	t.Run("bad mqtt broker", func(t *testing.T) {
		settings := testSettings(t)
		settings.MQTT.Enabled = true
		settings.MQTT.Broker = "ftp://broker"
		_, err := app.New(settings, app.WithLogger(quietLogger()))
		require.Error(t, err)
	})
}
