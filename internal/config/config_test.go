package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FUSSE_TEST_DB", filepath.Join(dir, "db", "fusse.db"))

	path := writeFile(t, dir, "config.yaml", `
database:
  path: ${FUSSE_TEST_DB}
calendar:
  timezone: UTC
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "db", "fusse.db"), cfg.Database.Path)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":5000", cfg.Server.Address)
	assert.Equal(t, "random", cfg.Booking.Policy)
	assert.Equal(t, 2*time.Hour, cfg.BookingDuration())
	assert.Equal(t, 30*time.Minute, cfg.SlotGranularity())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.DirExists(t, filepath.Join(dir, "db"))
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			yaml:    "database: {driver: postgres}",
			wantErr: "database.dsn is required",
		},
		{
			name:    "unknown driver",
			yaml:    "database: {driver: mysql}",
			wantErr: "unsupported",
		},
		{
			name:    "bad timezone",
			yaml:    "calendar: {timezone: Mars/Olympus}",
			wantErr: "calendar.timezone",
		},
		{
			name:    "unknown weekday",
			yaml:    "calendar: {timezone: UTC, weekly_hours: {funday: {open: '17:00', close: '23:00'}}}",
			wantErr: "unknown day",
		},
		{
			name:    "close before open",
			yaml:    "calendar: {timezone: UTC, weekly_hours: {monday: {open: '23:00', close: '17:00'}}}",
			wantErr: "close must be after open",
		},
		{
			name:    "override bad date",
			yaml:    "calendar: {timezone: UTC, overrides: [{date: '14-01-2024', closed: true}]}",
			wantErr: "invalid date format",
		},
		{
			name:    "sitting of a full day",
			yaml:    "booking: {duration_minutes: 1440}",
			wantErr: "less than 1440",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("17:30")
	require.NoError(t, err)
	assert.Equal(t, 17*time.Hour+30*time.Minute, d)

	d, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	for _, bad := range []string{"", "5pm", "25:00", "12:60", "24:30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadTablesConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tables.yaml", `
groups:
  - {from: 1, to: 3, capacity: 2}
tables:
  - {number: 10, capacity: 8}
  - {number: 11, capacity: 4, is_active: false}
`)

	cfg, err := LoadTablesConfig(path)
	require.NoError(t, err)

	inv := cfg.Inventory()
	require.Len(t, inv, 5)
	assert.Equal(t, 1, inv[0].Number)
	assert.Equal(t, 2, inv[0].Capacity)
	assert.True(t, inv[0].IsActive)
	assert.Equal(t, 11, inv[4].Number)
	assert.False(t, inv[4].IsActive)
	assert.Contains(t, cfg.String(), "5 tables (4 active, 14 seats)")
}

func TestTablesConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TablesConfig
		wantErr string
	}{
		{"empty", TablesConfig{}, "no tables defined"},
		{"zero number", TablesConfig{Tables: []TableConfig{{Number: 0, Capacity: 2}}}, "number must be positive"},
		{"duplicate", TablesConfig{Tables: []TableConfig{{Number: 1, Capacity: 2}, {Number: 1, Capacity: 4}}}, "duplicate number 1"},
		{"zero capacity", TablesConfig{Tables: []TableConfig{{Number: 1}}}, "capacity must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatchTables_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tables.yaml", "tables: [{number: 1, capacity: 2}]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *TablesConfig, 4)
	err := WatchTables(ctx, path, 10*time.Millisecond, nil, func(cfg *TablesConfig) { updates <- cfg })
	require.NoError(t, err)

	first := <-updates
	assert.Len(t, first.Tables, 1)

	writeFile(t, dir, "tables.yaml", "tables: [{number: 1, capacity: 2}, {number: 2, capacity: 4}]\n")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case cfg := <-updates:
		assert.Len(t, cfg.Tables, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("tables config was not reloaded")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchTables_InvalidFileKeepsInventory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tables.yaml", "tables: [{number: 1, capacity: 2}]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	logger := zerolog.New(&out)
	updates := make(chan *TablesConfig, 4)
	require.NoError(t, WatchTables(ctx, path, 10*time.Millisecond, &logger, func(cfg *TablesConfig) { updates <- cfg }))
	require.Len(t, (<-updates).Tables, 1)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed yaml", body: "tables: [{number: 1\n"},
		{name: "duplicate table", body: "tables: [{number: 1, capacity: 2}, {number: 1, capacity: 4}]\n"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFile(t, dir, "tables.yaml", tt.body)
			future := time.Now().Add(time.Duration(i+1) * time.Minute)
			require.NoError(t, os.Chtimes(path, future, future))

			require.Eventually(t, func() bool {
				return bytes.Count([]byte(out.String()), []byte("keeping previous inventory")) == i+1
			}, 2*time.Second, 10*time.Millisecond)
			assert.Contains(t, out.String(), path)
			assert.Empty(t, updates)
		})
	}

	writeFile(t, dir, "tables.yaml", "tables: [{number: 1, capacity: 2}, {number: 2, capacity: 4}]\n")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	select {
	case cfg := <-updates:
		assert.Len(t, cfg.Tables, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("tables config was not reloaded after the file was fixed")
	}
}

func TestWatchTables_WarnsWhenFileDisappears(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tables.yaml", "tables: [{number: 1, capacity: 2}]\n")

	var out syncBuffer
	logger := zerolog.New(&out)
	w := &tablesWatcher{path: path, lastMod: time.Now(), logger: &logger}
	require.NoError(t, os.Remove(path))

	w.poll()
	assert.Contains(t, out.String(), "Cannot stat tables config")
	assert.Contains(t, out.String(), path)
}
