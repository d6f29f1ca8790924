package audit_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/audit"
	"github.com/clawbridge/clawbridge/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var baseTime = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newLog(t *testing.T, opts ...audit.Option) (*audit.Log, *fakeClock, string) {
	t.Helper()

	clock := &fakeClock{now: baseTime}
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")

	l, err := audit.New(path, testLogger(), append([]audit.Option{audit.WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}

	return l, clock, path
}

func ms(v float64) *float64 { return &v }

func TestRecord_AppendsJSONLinesWithoutNullFields(t *testing.T) {
	t.Parallel()

	l, _, path := newLog(t)
	ctx := context.Background()

	l.Record(ctx, models.AuditEntry{EventType: models.EventServiceCall, EntityID: "light.kitchen", Result: models.ResultSuccess})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit file: %v", err)
	}

	line := strings.TrimSpace(string(data))
	if strings.Contains(line, "null") || strings.Contains(line, `"error"`) || strings.Contains(line, `"parameters"`) {
		t.Errorf("expected empty optional fields to be omitted, got %s", line)
	}

	if !strings.Contains(line, `"timestamp":"2026-05-10T12:00:00Z"`) {
		t.Errorf("expected stamped timestamp, got %s", line)
	}
}

func TestRecord_TimestampsNeverDecrease(t *testing.T) {
	t.Parallel()

	l, clock, _ := newLog(t)
	ctx := context.Background()

	l.Record(ctx, models.AuditEntry{EventType: "a", Result: models.ResultSuccess})
	clock.Set(baseTime.Add(-time.Hour))
	l.Record(ctx, models.AuditEntry{EventType: "b", Result: models.ResultSuccess})

	entries, err := l.Query(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].Timestamp.Before(entries[1].Timestamp) {
		t.Errorf("timestamps went backwards: %v then %v", entries[1].Timestamp, entries[0].Timestamp)
	}
}

func TestRecord_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	l, _, path := newLog(t, audit.WithEnabled(func() bool { return false }))
	l.Record(context.Background(), models.AuditEntry{EventType: "a", Result: models.ResultSuccess})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no audit file while disabled, stat err = %v", err)
	}
}

func TestRecord_IOErrorDoesNotPanic(t *testing.T) {
	t.Parallel()

	l, _, path := newLog(t)

	// A directory where the file should be makes every append fail.
	if err := os.MkdirAll(path, 0o750); err != nil {
		t.Fatal(err)
	}

	l.Record(context.Background(), models.AuditEntry{EventType: "a", Result: models.ResultSuccess})
}

func TestQuery_FiltersNewestFirst(t *testing.T) {
	t.Parallel()

	l, clock, _ := newLog(t)
	ctx := context.Background()

	for i, e := range []models.AuditEntry{
		{EventType: "a", EntityID: "light.a", Result: models.ResultSuccess},
		{EventType: "b", EntityID: "light.b", Result: models.ResultDenied},
		{EventType: "c", EntityID: "light.a", Result: models.ResultDenied},
		{EventType: "d", EntityID: "light.a", Result: models.ResultSuccess},
	} {
		clock.Set(baseTime.Add(time.Duration(i) * time.Minute))
		l.Record(ctx, e)
	}

	got, err := l.Query(ctx, models.AuditFilter{EntityID: "light.a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	var types []string
	for _, e := range got {
		types = append(types, e.EventType)
	}

	if !reflect.DeepEqual(types, []string{"d", "c", "a"}) {
		t.Errorf("expected newest-first [d c a], got %v", types)
	}

	denied, _ := l.Query(ctx, models.AuditFilter{Result: models.ResultDenied})
	if len(denied) != 2 {
		t.Errorf("expected 2 denied entries, got %d", len(denied))
	}

	since := baseTime.Add(90 * time.Second)
	until := baseTime.Add(2 * time.Minute)
	windowed, _ := l.Query(ctx, models.AuditFilter{Since: &since, Until: &until})
	if len(windowed) != 1 || windowed[0].EventType != "c" {
		t.Errorf("expected only entry c in window, got %+v", windowed)
	}
}

func TestQuery_CapsAtMaximum(t *testing.T) {
	t.Parallel()

	l, _, _ := newLog(t)
	ctx := context.Background()

	for range audit.MaxQueryEntries + 20 {
		l.Record(ctx, models.AuditEntry{EventType: "a", Result: models.ResultSuccess})
	}

	got, err := l.Query(ctx, models.AuditFilter{Limit: 10_000})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(got) != audit.MaxQueryEntries {
		t.Errorf("expected %d entries, got %d", audit.MaxQueryEntries, len(got))
	}
}

func TestQuery_IdenticalQueriesIdenticalResults(t *testing.T) {
	t.Parallel()

	l, _, _ := newLog(t)
	ctx := context.Background()

	l.Record(ctx, models.AuditEntry{EventType: "a", EntityID: "light.a", Result: models.ResultSuccess})
	l.Record(ctx, models.AuditEntry{EventType: "b", EntityID: "light.a", Result: models.ResultError, Error: "boom"})

	first, _ := l.Query(ctx, models.AuditFilter{EntityID: "light.a"})
	second, _ := l.Query(ctx, models.AuditFilter{EntityID: "light.a"})

	if !reflect.DeepEqual(first, second) {
		t.Errorf("queries differ:\n%+v\n%+v", first, second)
	}
}

func TestQuery_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	l, _, path := newLog(t)
	ctx := context.Background()

	l.Record(ctx, models.AuditEntry{EventType: "a", Result: models.ResultSuccess})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	l.Record(ctx, models.AuditEntry{EventType: "b", Result: models.ResultSuccess})

	got, err := l.Query(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(got) != 2 {
		t.Errorf("expected 2 valid entries, got %d", len(got))
	}
}

func TestClear_EmptiesLog(t *testing.T) {
	t.Parallel()

	l, _, _ := newLog(t)
	ctx := context.Background()

	l.Record(ctx, models.AuditEntry{EventType: "a", Result: models.ResultSuccess})

	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := l.Query(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("expected empty log after clear, got %d entries", len(got))
	}

	if err := l.Clear(ctx); err != nil {
		t.Errorf("clearing an empty log should succeed, got %v", err)
	}
}

func TestRetain_RemovesOnlyOlderEntriesByteForByte(t *testing.T) {
	t.Parallel()

	l, clock, path := newLog(t)
	ctx := context.Background()

	// 40 entries, one per day, oldest first, each an hour before the day mark.
	for d := 39; d >= 0; d-- {
		clock.Set(baseTime.Add(-time.Duration(d)*24*time.Hour - time.Hour))
		l.Record(ctx, models.AuditEntry{EventType: models.EventServiceCall, EntityID: "light.a", Result: models.ResultSuccess})
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	lines := bytes.SplitAfter(before, []byte("\n"))
	lines = lines[:len(lines)-1] // trailing empty element
	if len(lines) != 40 {
		t.Fatalf("expected 40 lines, got %d", len(lines))
	}

	clock.Set(baseTime)

	removed, err := l.Retain(ctx, 30)
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}

	if removed != 10 {
		t.Errorf("expected 10 removed, got %d", removed)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	want := bytes.Join(lines[10:], nil)
	if !bytes.Equal(after, want) {
		t.Errorf("retained entries changed:\nwant %q\ngot  %q", want, after)
	}
}

func TestRetain_RejectsNonPositiveDays(t *testing.T) {
	t.Parallel()

	l, _, _ := newLog(t)

	if _, err := l.Retain(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero retention days")
	}
}

func TestRetain_MissingFile(t *testing.T) {
	t.Parallel()

	l, _, _ := newLog(t)

	removed, err := l.Retain(context.Background(), 30)
	if err != nil || removed != 0 {
		t.Fatalf("expected (0, nil) for missing file, got (%d, %v)", removed, err)
	}
}

func TestNew_ResumesMonotonicClock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	first, err := audit.New(path, testLogger(), audit.WithClock(func() time.Time { return baseTime }))
	if err != nil {
		t.Fatal(err)
	}
	first.Record(ctx, models.AuditEntry{EventType: "a", Result: models.ResultSuccess})

	second, err := audit.New(path, testLogger(), audit.WithClock(func() time.Time { return baseTime.Add(-time.Hour) }))
	if err != nil {
		t.Fatal(err)
	}
	second.Record(ctx, models.AuditEntry{EventType: "b", Result: models.ResultSuccess})

	got, _ := second.Query(ctx, models.AuditFilter{})
	if len(got) != 2 || got[0].Timestamp.Before(got[1].Timestamp) {
		t.Fatalf("expected non-decreasing timestamps across reopen, got %+v", got)
	}
}

func TestStats_Aggregates(t *testing.T) {
	t.Parallel()

	l, clock, _ := newLog(t)
	ctx := context.Background()

	record := func(offset time.Duration, e models.AuditEntry) {
		clock.Set(baseTime.Add(-offset))
		l.Record(ctx, e)
	}

	// Oldest first so the monotonic clamp leaves timestamps untouched.
	record(10*24*time.Hour, models.AuditEntry{EventType: "a", EntityID: "light.old", Result: models.ResultSuccess})
	record(3*24*time.Hour, models.AuditEntry{EventType: "a", EntityID: "light.a", Result: models.ResultSuccess})
	record(5*time.Hour+time.Minute, models.AuditEntry{EventType: "a", EntityID: "lock.door", Result: models.ResultDenied, SourceIP: "10.0.0.2"})
	record(2*time.Hour, models.AuditEntry{EventType: "a", EntityID: "light.a", Result: models.ResultSuccess, SourceIP: "10.0.0.1", ResponseTimeMS: ms(10)})
	record(30*time.Minute, models.AuditEntry{EventType: "a", EntityID: "light.a", Result: models.ResultSuccess, SourceIP: "10.0.0.1", ResponseTimeMS: ms(20)})
	record(0, models.AuditEntry{EventType: "a", EntityID: "lock.door", Result: models.ResultDenied, SourceIP: "10.0.0.1"})

	st, err := l.Stats(ctx, 24)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if st.TotalAllTime != 6 || st.Total7d != 5 || st.TotalWindow != 4 {
		t.Errorf("totals = all %d / 7d %d / window %d, want 6/5/4", st.TotalAllTime, st.Total7d, st.TotalWindow)
	}

	if st.ResultsWindow[models.ResultDenied] != 2 || st.ResultsAll[models.ResultSuccess] != 4 {
		t.Errorf("unexpected result histograms: window %v all %v", st.ResultsWindow, st.ResultsAll)
	}

	if len(st.Hourly) != 24 || st.Hourly[0] != 2 || st.Hourly[2] != 1 || st.Hourly[5] != 1 {
		t.Errorf("unexpected hourly buckets: %v", st.Hourly)
	}

	if len(st.TopEntities) != 2 || st.TopEntities[0].Key != "light.a" || st.TopEntities[0].Count != 2 {
		t.Errorf("unexpected top entities: %+v", st.TopEntities)
	}

	if len(st.TopDenied) != 1 || st.TopDenied[0].Key != "lock.door" || st.TopDenied[0].Count != 2 {
		t.Errorf("unexpected top denied: %+v", st.TopDenied)
	}

	if len(st.TopIPs) != 2 || st.TopIPs[0].Key != "10.0.0.1" || st.TopIPs[0].Count != 3 {
		t.Errorf("unexpected top ips: %+v", st.TopIPs)
	}

	if st.AvgResponseMS != 15 {
		t.Errorf("AvgResponseMS = %v, want 15", st.AvgResponseMS)
	}

	if st.SuccessRatePct != 50 {
		t.Errorf("SuccessRatePct = %v, want 50", st.SuccessRatePct)
	}
}

func TestStats_EmptyLog(t *testing.T) {
	t.Parallel()

	l, _, _ := newLog(t)

	st, err := l.Stats(context.Background(), 0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if st.WindowHours != 24 || len(st.Hourly) != 24 || st.TotalAllTime != 0 || st.SuccessRatePct != 0 {
		t.Errorf("unexpected empty stats: %+v", st)
	}
}

func TestRecord_OversizedEntryIsTruncated(t *testing.T) {
	t.Parallel()

	l, _, path := newLog(t)
	ctx := context.Background()

	// Every '<' is escaped to six bytes when serialized.
	l.Record(ctx, models.AuditEntry{
		EventType:  models.EventServiceCall,
		EntityID:   "light.kitchen",
		Parameters: map[string]any{"message": strings.Repeat("<", 300_000)},
		Result:     models.ResultDenied,
	})
	l.Record(ctx, models.AuditEntry{EventType: models.EventServiceCall, Result: models.ResultSuccess})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) > audit.MaxEntrySize {
			t.Errorf("line %d is %d bytes, cap is %d", i, len(line), audit.MaxEntrySize)
		}
	}

	got, err := l.Query(ctx, models.AuditFilter{EntityID: "light.kitchen"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Parameters["truncated"] != true {
		t.Fatalf("expected one entry with a truncation marker, got %+v", got)
	}

	if _, err := l.Stats(ctx, 24); err != nil {
		t.Errorf("Stats: %v", err)
	}
	if _, err := l.Retain(ctx, 30); err != nil {
		t.Errorf("Retain: %v", err)
	}
	if _, err := audit.New(path, testLogger()); err != nil {
		t.Errorf("reopening: %v", err)
	}
}

func TestOverlongLinesDoNotBreakReads(t *testing.T) {
	t.Parallel()

	l, clock, path := newLog(t)
	ctx := context.Background()

	clock.Set(baseTime.Add(-40 * 24 * time.Hour))
	l.Record(ctx, models.AuditEntry{EventType: "old", Result: models.ResultSuccess})

	junk := "{\"event_type\":\"" + strings.Repeat("x", 2<<20) + "\"}\n"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(junk)
	f.WriteString("{not json\n")
	f.Close()

	clock.Set(baseTime)
	l.Record(ctx, models.AuditEntry{EventType: "new", Result: models.ResultSuccess})

	if _, err := audit.New(path, testLogger()); err != nil {
		t.Fatalf("reopening: %v", err)
	}

	got, err := l.Query(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 parseable entries, got %d", len(got))
	}

	st, err := l.Stats(ctx, 24)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalAllTime != 2 {
		t.Errorf("expected 2 entries in stats, got %d", st.TotalAllTime)
	}

	removed, err := l.Retain(ctx, 30)
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected only the old entry removed, got %d", removed)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(after, []byte(junk)) || !bytes.Contains(after, []byte("{not json\n")) {
		t.Error("unparseable lines were not kept verbatim")
	}
}
