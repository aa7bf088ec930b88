package instruments

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/marketlens/pkg/models"
	"github.com/seenimoa/marketlens/pkg/utils"
)

// expiryMs returns 15:30 IST on the given date as epoch millis.
func expiryMs(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 15, 30, 0, 0, utils.IST).UnixMilli()
}

func sampleRecords() []models.InstrumentRecord {
	return []models.InstrumentRecord{
		{Segment: "NSE_INDEX", TradingSymbol: "NIFTY", Name: "Nifty 50", InstrumentKey: "NSE_INDEX|Nifty 50", InstrumentType: "INDEX"},
		{Segment: "NSE_INDEX", TradingSymbol: "BANKNIFTY", Name: "Nifty Bank", InstrumentKey: "NSE_INDEX|Nifty Bank", InstrumentType: "INDEX"},
		{Segment: "NSE_INDEX", TradingSymbol: "NIFTY MIDCAP 100", Name: "Nifty Midcap 100", InstrumentKey: "NSE_INDEX|NIFTY MIDCAP 100", InstrumentType: "INDEX"},
		{Segment: "NSE_EQ", TradingSymbol: "RELIANCE", Name: "RELIANCE INDUSTRIES LTD", InstrumentKey: "NSE_EQ|INE002A01018", InstrumentType: "EQ"},
		{Segment: "NSE_EQ", TradingSymbol: "NIFTYBEES", Name: "NIP IND ETF NIFTY BEES", InstrumentKey: "NSE_EQ|INF204KB14I2", InstrumentType: "EQ"},
		{Segment: "NSE_EQ", TradingSymbol: "GSEC2030", InstrumentKey: "NSE_EQ|IN0020200070", InstrumentType: "GS"},
		{Segment: "NSE_FO", TradingSymbol: "NIFTY24FEBFUT", Name: "NIFTY", UnderlyingSymbol: "NIFTY", InstrumentKey: "NSE_FO|2", InstrumentType: "FUT", Expiry: expiryMs(2024, 2, 29)},
		{Segment: "NSE_FO", TradingSymbol: "NIFTY24JANFUT", Name: "NIFTY", UnderlyingSymbol: "NIFTY", InstrumentKey: "NSE_FO|1", InstrumentType: "FUT", Expiry: expiryMs(2024, 1, 25)},
		{Segment: "NSE_FO", TradingSymbol: "NIFTY24JAN21000CE", UnderlyingSymbol: "NIFTY", InstrumentKey: "NSE_FO|10", InstrumentType: "CE", Expiry: expiryMs(2024, 1, 18)},
		{Segment: "NSE_FO", TradingSymbol: "NIFTY24JAN21000PE", UnderlyingSymbol: "NIFTY", InstrumentKey: "NSE_FO|11", InstrumentType: "PE", Expiry: expiryMs(2024, 1, 18)},
		{Segment: "NSE_FO", TradingSymbol: "NIFTY24JAN21000CE", UnderlyingSymbol: "NIFTY", InstrumentKey: "NSE_FO|12", InstrumentType: "CE", Expiry: expiryMs(2024, 1, 25)},
		{Segment: "NSE_FO", TradingSymbol: "RELIANCE24JANFUT", Name: "RELIANCE", InstrumentKey: "NSE_FO|20", InstrumentType: "FUT", Expiry: expiryMs(2024, 1, 25)},
		{Segment: "NSE_FO", TradingSymbol: "MIDCAP24JAN10000CE", UnderlyingSymbol: "NIFTY MIDCAP 100", InstrumentKey: "NSE_FO|30", InstrumentType: "CE", Expiry: expiryMs(2024, 1, 22)},
		{Segment: "BSE_EQ", TradingSymbol: "RELIANCE", InstrumentKey: "BSE_EQ|500325", InstrumentType: "EQ"},
	}
}

func sampleDirectory(t *testing.T) *Directory {
	t.Helper()
	b := NewBuilder()
	for _, r := range sampleRecords() {
		b.Add(r)
	}
	return b.Build()
}

func TestResolveIndexAliases(t *testing.T) {
	d := sampleDirectory(t)
	for _, s := range []string{"Nifty 50", "^NSEI", "NIFTY 50", "NIFTY", "nifty50"} {
		key, err := d.ResolveKey(s)
		require.NoError(t, err, s)
		assert.Equal(t, "NSE_INDEX|Nifty 50", key, s)
	}
}

func TestAliasEquivalence(t *testing.T) {
	d := sampleDirectory(t)
	for _, g := range indexAliasGroups {
		var want string
		for i, a := range g.aliases {
			inst, ok := d.Resolve(a)
			require.True(t, ok, "alias %q", a)
			if i == 0 {
				want = inst.Key
				continue
			}
			assert.Equal(t, want, inst.Key, "alias %q of %s", a, g.underlying)
		}
	}
}

func TestResolveEquity(t *testing.T) {
	d := sampleDirectory(t)

	inst, ok := d.Resolve("RELIANCE.NS")
	require.True(t, ok)
	assert.Equal(t, "NSE_EQ|INE002A01018", inst.Key)
	assert.Equal(t, models.SegmentEquity, inst.Segment)

	_, ok = d.Resolve("reliance")
	assert.False(t, ok, "equity lookups are case-sensitive")

	_, ok = d.Resolve("GSEC2030")
	assert.False(t, ok, "non-EQ instrument types are not equities")

	_, err := d.ResolveKey("NOSUCH.NS")
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok = d.Resolve("   ")
	assert.False(t, ok)
}

func TestResolveDeterministic(t *testing.T) {
	d := sampleDirectory(t)
	rng := rand.New(rand.NewSource(7))
	pool := []string{"Nifty 50", "^NSEBANK", "RELIANCE", "RELIANCE.NS", "NIFTYBEES", "FOO", "^NSEMDCP100", "bank nifty"}
	for i := 0; i < 200; i++ {
		s := pool[rng.Intn(len(pool))]
		a, okA := d.Resolve(s)
		b, okB := d.Resolve(s)
		assert.Equal(t, okA, okB, s)
		assert.Equal(t, a, b, s)
	}
}

func TestNextExpiry(t *testing.T) {
	d := sampleDirectory(t)

	tests := []struct {
		symbol string
		asOf   time.Time
		want   string
		ok     bool
	}{
		{"NIFTY", time.Date(2024, 1, 10, 10, 0, 0, 0, utils.IST), "2024-01-18", true},
		{"Nifty 50", time.Date(2024, 1, 18, 20, 0, 0, 0, utils.IST), "2024-01-18", true},
		{"^NSEI", time.Date(2024, 1, 19, 9, 0, 0, 0, utils.IST), "2024-01-25", true},
		{"NIFTY", time.Date(2024, 3, 1, 9, 0, 0, 0, utils.IST), "", false},
		{"RELIANCE.NS", time.Date(2024, 1, 1, 9, 0, 0, 0, utils.IST), "2024-01-25", true},
		{"UNKNOWN", time.Date(2024, 1, 1, 9, 0, 0, 0, utils.IST), "", false},
	}
	for _, tt := range tests {
		got, ok := d.NextExpiry(tt.symbol, tt.asOf)
		assert.Equal(t, tt.ok, ok, "%s @ %v", tt.symbol, tt.asOf)
		assert.Equal(t, tt.want, got, "%s @ %v", tt.symbol, tt.asOf)
	}
}

func TestNextExpiryMidcapFallback(t *testing.T) {
	d := sampleDirectory(t)
	// No MIDCPNIFTY series exists, so the NIFTY MIDCAP 100 series is used.
	got, ok := d.NextExpiry("^NSEMDCP100", time.Date(2024, 1, 1, 9, 0, 0, 0, utils.IST))
	require.True(t, ok)
	assert.Equal(t, "2024-01-22", got)

	got, ok = d.NextExpiry("MIDCPNIFTY", time.Date(2024, 1, 1, 9, 0, 0, 0, utils.IST))
	require.True(t, ok)
	assert.Equal(t, "2024-01-22", got)
}

func TestExpiriesSortedUnique(t *testing.T) {
	d := sampleDirectory(t)
	assert.Equal(t, []string{"2024-01-18", "2024-01-25", "2024-02-29"}, d.Expiries("NIFTY"))
}

func TestFuturesContracts(t *testing.T) {
	d := sampleDirectory(t)

	all := d.FuturesContracts("Nifty 50", time.Date(2024, 1, 1, 0, 0, 0, 0, utils.IST))
	require.Len(t, all, 2)
	assert.Equal(t, "NSE_FO|1", all[0].Key)
	assert.Equal(t, "NSE_FO|2", all[1].Key)

	afterJan := d.FuturesContracts("NIFTY", time.Date(2024, 1, 26, 0, 0, 0, 0, utils.IST))
	require.Len(t, afterJan, 1)
	assert.Equal(t, "NSE_FO|2", afterJan[0].Key)

	// Mutating the returned slice must not reach the directory.
	afterJan[0].Key = "mutated"
	again := d.FuturesContracts("NIFTY", time.Date(2024, 1, 26, 0, 0, 0, 0, utils.IST))
	assert.Equal(t, "NSE_FO|2", again[0].Key)

	near, ok := d.NearestFuture("RELIANCE", time.Date(2024, 1, 2, 0, 0, 0, 0, utils.IST))
	require.True(t, ok)
	assert.Equal(t, "NSE_FO|20", near.Key)

	assert.Empty(t, d.FuturesContracts("TCS", time.Now()))
}

func TestStats(t *testing.T) {
	st := sampleDirectory(t).Stats()
	assert.Equal(t, 2, st.Equities)
	assert.Equal(t, 3, st.Indices)
	assert.Greater(t, st.IndexAliases, st.Indices)
	assert.Equal(t, 2, st.FuturesRoots)
	assert.Equal(t, 3, st.ExpiryRoots)
}

func TestUnderlying(t *testing.T) {
	tests := map[string]string{
		"Nifty 50":         UnderlyingNifty,
		"^NSEBANK":         UnderlyingBankNifty,
		"Bank Nifty":       UnderlyingBankNifty,
		"NIFTY_MIDCAP_100": UnderlyingMidcap,
		"midcpnifty":       UnderlyingMidcap,
		"TCS.NS":           "TCS",
		"RELIANCE":         "RELIANCE",
	}
	for in, want := range tests {
		assert.Equal(t, want, Underlying(in), in)
	}
}

// ── dump loading ──

func dumpJSON(t *testing.T) []byte {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("[")
	for i, r := range sampleRecords() {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"segment":%q,"trading_symbol":%q,"name":%q,"instrument_key":%q,"instrument_type":%q,"expiry":%d,"underlying_symbol":%q,"lot_size":50,"tick_size":0.05}`,
			r.Segment, r.TradingSymbol, r.Name, r.InstrumentKey, r.InstrumentType, r.Expiry, r.UnderlyingSymbol)
	}
	sb.WriteString("]")
	return []byte(sb.String())
}

func TestLoadDumpPlain(t *testing.T) {
	d, err := LoadDump(bytes.NewReader(dumpJSON(t)))
	require.NoError(t, err)
	key, err := d.ResolveKey("^NSEI")
	require.NoError(t, err)
	assert.Equal(t, "NSE_INDEX|Nifty 50", key)
	assert.Equal(t, sampleDirectory(t).Stats(), d.Stats())
}

func TestLoadDumpGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(dumpJSON(t))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	d, err := LoadDump(&buf)
	require.NoError(t, err)
	_, ok := d.Resolve("RELIANCE")
	assert.True(t, ok)
}

func TestLoadDumpErrors(t *testing.T) {
	_, err := LoadDump(strings.NewReader(`[]`))
	assert.ErrorIs(t, err, ErrEmptyDump)

	_, err = LoadDump(strings.NewReader(`[{"segment":"NSE_EQ","trading_symbol":`))
	assert.Error(t, err)

	_, err = LoadDump(strings.NewReader(`[{"segment":"NSE_EQ","trading_symbol":"A","instrument_key":"k","instrument_type":"EQ"},`))
	assert.Error(t, err, "truncated dump must not load partially")

	_, err = LoadDump(strings.NewReader(`[{"segment":"MCX_FO","trading_symbol":"GOLD"}]`))
	assert.ErrorIs(t, err, ErrEmptyDump)
}

func TestMasterRoundTrip(t *testing.T) {
	d := sampleDirectory(t)
	var buf bytes.Buffer
	require.NoError(t, d.WriteMaster(&buf))

	back, err := LoadMaster(&buf)
	require.NoError(t, err)
	assert.Equal(t, d.Stats(), back.Stats())

	asOf := time.Date(2024, 1, 10, 0, 0, 0, 0, utils.IST)
	a, _ := d.NextExpiry("NIFTY", asOf)
	b, _ := back.NextExpiry("NIFTY", asOf)
	assert.Equal(t, a, b)
	assert.Equal(t, d.FuturesContracts("NIFTY", asOf), back.FuturesContracts("NIFTY", asOf))
}

func TestOpenPrefersMaster(t *testing.T) {
	dir := t.TempDir()
	masterPath := dir + "/master.json"
	require.NoError(t, sampleDirectory(t).WriteMasterFile(masterPath))

	d, err := Open(masterPath, dir+"/missing.json")
	require.NoError(t, err)
	_, ok := d.Resolve("Nifty Bank")
	assert.True(t, ok)

	_, err = Open(dir+"/nomaster.json", dir+"/missing.json")
	assert.Error(t, err)
}

func TestLoadMasterRejectsVersion(t *testing.T) {
	_, err := LoadMaster(strings.NewReader(`{"version":99,"equities":{"A":{"symbol":"A","key":"k"}}}`))
	assert.Error(t, err)
}
