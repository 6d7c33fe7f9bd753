package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/policyshield/policyshield/internal/domain/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeEntry(ts time.Time, tool string) trace.Entry {
	return trace.Entry{
		Timestamp: ts,
		SessionID: "sess-1",
		Tool:      tool,
		Verdict:   "allow",
		RuleID:    "rule-1",
	}
}

func TestNewFileRecorderCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "subdir", "trace")
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	defer func() { _ = rec.Close() }()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("directory permissions = %o, want 0700", perm)
	}
}

func TestFileRecorderWritesJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}

	now := time.Now().UTC()
	rec.Record(makeEntry(now, "tool_a"))
	rec.Record(makeEntry(now, "tool_b"))

	if err := rec.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", now.Format("2006-01-02")))
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded trace.Entry
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line not valid JSON: %v", err)
	}
	if decoded.Tool != "tool_a" {
		t.Errorf("Tool = %q, want tool_a", decoded.Tool)
	}
}

func TestFileRecorderDateRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}

	day1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	rec.Record(makeEntry(day1, "tool_day1"))
	rec.Record(makeEntry(day2, "tool_day2"))
	_ = rec.Flush()
	_ = rec.Close()

	if _, err := os.Stat(filepath.Join(dir, "trace-2026-02-01.jsonl")); err != nil {
		t.Errorf("day1 file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "trace-2026-02-02.jsonl")); err != nil {
		t.Errorf("day2 file missing: %v", err)
	}
}

func TestFileRecorderSizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	rec.maxFileSize = 500

	now := time.Now().UTC()
	dateStr := now.Format("2006-01-02")
	for i := 0; i < 20; i++ {
		e := makeEntry(now, fmt.Sprintf("tool_%03d", i))
		e.Error = strings.Repeat("x", 50)
		rec.Record(e)
	}
	_ = rec.Close()

	if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", dateStr))); err != nil {
		t.Errorf("base file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("trace-%s-1.jsonl", dateStr))); err != nil {
		t.Errorf("suffixed file missing: %v", err)
	}
}

func TestFileRecorderRetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldDate := time.Now().UTC().AddDate(0, 0, -10)
	recentDate := time.Now().UTC().AddDate(0, 0, -3)

	oldFile := filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", oldDate.Format("2006-01-02")))
	recentFile := filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", recentDate.Format("2006-01-02")))
	_ = os.WriteFile(oldFile, []byte(`{"tool":"old"}`+"\n"), 0600)
	_ = os.WriteFile(recentFile, []byte(`{"tool":"recent"}`+"\n"), 0600)

	rec, err := NewFileRecorder(Config{Dir: dir, RetentionDays: 7}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	defer func() { _ = rec.Close() }()

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("old file should have been deleted by retention cleanup")
	}
	if _, err := os.Stat(recentFile); err != nil {
		t.Error("recent file should not have been deleted")
	}
}

func TestTraceCacheAddAndRecent(t *testing.T) {
	t.Parallel()

	cache := newTraceCache(5)
	for i := 0; i < 3; i++ {
		cache.Add(makeEntry(time.Now().UTC(), fmt.Sprintf("tool_%d", i)))
	}
	if cache.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cache.Len())
	}
	recent := cache.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d, want 2", len(recent))
	}
	if recent[0].Tool != "tool_2" {
		t.Errorf("Recent[0].Tool = %q, want tool_2", recent[0].Tool)
	}
}

func TestTraceCacheRingBufferOverflow(t *testing.T) {
	t.Parallel()

	cache := newTraceCache(3)
	for i := 0; i < 5; i++ {
		cache.Add(makeEntry(time.Now().UTC(), fmt.Sprintf("tool_%d", i)))
	}
	if cache.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cache.Len())
	}
	recent := cache.Recent(5)
	if len(recent) != 3 {
		t.Fatalf("Recent(5) returned %d, want 3", len(recent))
	}
	if recent[0].Tool != "tool_4" {
		t.Errorf("Recent[0].Tool = %q, want tool_4", recent[0].Tool)
	}
}

func TestFileRecorderCachePopulatedOnRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	defer func() { _ = rec.Close() }()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec.Record(makeEntry(now, fmt.Sprintf("tool_%d", i)))
	}
	recent := rec.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) returned %d, want 3", len(recent))
	}
	if recent[0].Tool != "tool_4" {
		t.Errorf("Recent[0].Tool = %q, want tool_4", recent[0].Tool)
	}
}

func TestFileRecorderCachePopulatedAtBoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now().UTC()
	filename := filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", now.Format("2006-01-02")))

	f, _ := os.Create(filename)
	enc := json.NewEncoder(f)
	for i := 0; i < 10; i++ {
		_ = enc.Encode(makeEntry(now.Add(time.Duration(i)*time.Second), fmt.Sprintf("boot_%d", i)))
	}
	_ = f.Close()

	rec, err := NewFileRecorder(Config{Dir: dir, CacheSize: 5}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	defer func() { _ = rec.Close() }()

	recent := rec.Recent(10)
	if len(recent) != 5 {
		t.Fatalf("Recent(10) returned %d, want 5", len(recent))
	}
	if recent[0].Tool != "boot_9" {
		t.Errorf("Recent[0].Tool = %q, want boot_9", recent[0].Tool)
	}
}

func TestFileRecorderConcurrentRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir, CacheSize: 1000}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}

	now := time.Now().UTC()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rec.Record(makeEntry(now, fmt.Sprintf("concurrent_%d", idx)))
		}(i)
	}
	wg.Wait()
	_ = rec.Flush()
	_ = rec.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	total := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "trace-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("ReadFile error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if lines[0] != "" {
			total += len(lines)
		}
	}
	if total != 100 {
		t.Errorf("expected 100 total lines, got %d", total)
	}
}

func TestFileRecorderFilePermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}

	now := time.Now().UTC()
	rec.Record(makeEntry(now, "tool_perm"))
	_ = rec.Close()

	filename := filepath.Join(dir, fmt.Sprintf("trace-%s.jsonl", now.Format("2006-01-02")))
	info, err := os.Stat(filename)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestFileRecorderCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("double Close() error: %v", err)
	}
}

func TestFileRecorderImplementsRecorderInterface(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	defer func() { _ = rec.Close() }()

	var _ trace.Recorder = rec
}

func TestFileRecorderRecordAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := NewFileRecorder(Config{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("NewFileRecorder() error: %v", err)
	}
	_ = rec.Close()

	// Should not panic.
	rec.Record(makeEntry(time.Now().UTC(), "after_close"))
}
