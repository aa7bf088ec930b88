package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/marketlens/pkg/models"
)

var now = time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func TestDetectFirstRun(t *testing.T) {
	changes := Detect(nil, Snapshot{Symbol: "NIFTY", Price: 100})
	require.Len(t, changes, 1)
	assert.Equal(t, Change{
		Category:     CategoryInfo,
		Description:  "First run - no history",
		Significance: SignificanceLow,
		Direction:    DirectionNeutral,
	}, changes[0])
}

func TestDetectPrice(t *testing.T) {
	prev := &Snapshot{Price: 100}
	tests := []struct {
		name         string
		price        float64
		significance string
		direction    string
	}{
		{"small move ignored", 101.4, "", ""},
		{"medium rise", 102, SignificanceMedium, DirectionBullish},
		{"large fall", 96, SignificanceHigh, DirectionBearish},
		{"medium fall", 97.5, SignificanceMedium, DirectionBearish},
	}
	for _, tt := range tests {
		changes := Detect(prev, Snapshot{Price: tt.price})
		if tt.significance == "" {
			assert.Empty(t, changes, tt.name)
			continue
		}
		require.Len(t, changes, 1, tt.name)
		assert.Equal(t, CategoryPrice, changes[0].Category, tt.name)
		assert.Equal(t, tt.significance, changes[0].Significance, tt.name)
		assert.Equal(t, tt.direction, changes[0].Direction, tt.name)
	}

	changes := Detect(prev, Snapshot{Price: 104})
	assert.Equal(t, "Price moved +4.0% (₹100 -> ₹104)", changes[0].Description)
}

func TestDetectVolumeAndPCR(t *testing.T) {
	prev := &Snapshot{Price: 100, VolumeAvg: 1000, PCR: ptr(0.9)}
	changes := Detect(prev, Snapshot{Price: 100, VolumeAvg: 1300, PCR: ptr(1.2)})
	require.Len(t, changes, 2)
	assert.Equal(t, CategoryVolume, changes[0].Category)
	assert.Equal(t, "Volume trend changed +30%", changes[0].Description)
	assert.Equal(t, CategoryOptions, changes[1].Category)
	assert.Equal(t, "PCR changed +0.30 (0.90 -> 1.20)", changes[1].Description)

	quiet := Detect(prev, Snapshot{Price: 100, VolumeAvg: 1100, PCR: ptr(1.05)})
	assert.Empty(t, quiet)

	noPCR := Detect(prev, Snapshot{Price: 100, VolumeAvg: 1000})
	assert.Empty(t, noPCR)
}

func TestStoreRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "snapshots.json")
	s := NewStore(path)

	all, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, all)

	changes, err := s.Record(Snapshot{Timestamp: now, Symbol: "NIFTY", Price: 22000, VolumeAvg: 5e5})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, CategoryInfo, changes[0].Category)

	changes, err = s.Record(Snapshot{Timestamp: now.Add(24 * time.Hour), Symbol: "NIFTY", Price: 22800, VolumeAvg: 5e5})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, CategoryPrice, changes[0].Category)
	assert.Equal(t, SignificanceHigh, changes[0].Significance)

	_, err = s.Record(Snapshot{Timestamp: now, Symbol: "BANKNIFTY", Price: 47000})
	require.NoError(t, err)

	got, ok, err := s.Get("NIFTY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 22800.0, got.Price)
	assert.True(t, got.Timestamp.Equal(now.Add(24*time.Hour)))

	all, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStoreFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	s := NewStore(path)
	_, err := s.Record(Snapshot{Timestamp: now, Symbol: "INFY", Price: 1500, VolumeAvg: 100, PCR: ptr(0.8)})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "INFY")
	assert.Equal(t, 1500.0, raw["INFY"]["price"])
	assert.Equal(t, 100.0, raw["INFY"]["volume_avg"])
	assert.Equal(t, 0.8, raw["INFY"]["pcr"])
	assert.NotContains(t, raw["INFY"], "rsi")
}

func TestStoreCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(path)
	changes, err := s.Record(Snapshot{Symbol: "TCS", Price: 4000})
	require.NoError(t, err)
	assert.Equal(t, CategoryInfo, changes[0].Category)

	_, ok, err := s.Get("TCS")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFromFrame(t *testing.T) {
	f := &models.Frame{}
	for i := 0; i < 30; i++ {
		f.Bars = append(f.Bars, models.OHLCV{
			Timestamp: now.AddDate(0, 0, i-30),
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100 + float64(i),
			Volume:    1000,
		})
	}
	s, ok := FromFrame("RELIANCE", f, ptr(1.1), now)
	require.True(t, ok)
	assert.Equal(t, "RELIANCE", s.Symbol)
	assert.Equal(t, 129.0, s.Price)
	assert.Equal(t, 1000.0, s.VolumeAvg)
	require.NotNil(t, s.RSI)
	assert.Equal(t, 100.0, *s.RSI)
	assert.Equal(t, 1.1, *s.PCR)

	_, ok = FromFrame("EMPTY", &models.Frame{}, nil, now)
	assert.False(t, ok)

	short := &models.Frame{Bars: f.Bars[:5]}
	s, ok = FromFrame("SHORT", short, nil, now)
	require.True(t, ok)
	assert.Nil(t, s.RSI)
}
