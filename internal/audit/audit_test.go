package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	l.Log(EventLoginFailed, "42", map[string]any{"reason": "bad code"})
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close() returned error: %v", err)
	}
	if got := l.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
}

func TestNewLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	l, err := NewLogger(path, 1, 2)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	if got := l.DroppedCount(); got != 0 {
		t.Fatalf("DroppedCount() = %d, want 0", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("audit file not created: %v", err)
	}
}

func TestLogWritesJSONLEntry(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventLoginSucceeded, "42", map[string]any{"eventId": "e-1"})
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EventType != EventLoginSucceeded || e.UserID != "42" {
		t.Fatalf("entry = %+v", e)
	}
	if e.PrevHash != genesisHash {
		t.Fatalf("prevHash = %q, want genesis", e.PrevHash)
	}
	if e.EntryHash == "" {
		t.Fatal("entryHash is empty")
	}
}

func TestHashChainLinkingAndVerify(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventBotStart, "", nil)
	l.Log(EventLoginPrompted, "42", nil)
	l.Log(EventLoginSucceeded, "42", nil)
	l.Log(EventLogout, "42", nil)
	l.Close()

	entries := readEntries(t, l.filePath)
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EntryHash {
			t.Fatalf("entry[%d] not linked to entry[%d]", i, i-1)
		}
	}

	n, err := VerifyFile(l.filePath)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if n != 4 {
		t.Fatalf("VerifyFile checked %d entries, want 4", n)
	}
}

func TestVerifyFileDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventLoginFailed, "42", map[string]any{"attempt": 1})
	l.Log(EventLoginFailed, "42", map[string]any{"attempt": 2})
	l.Close()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"userId":"42"`, `"userId":"43"`, 1)
	if err := os.WriteFile(l.filePath, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyFile(l.filePath); err == nil {
		t.Fatal("VerifyFile should detect a modified entry")
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	first, err := NewLogger(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	first.Log(EventBotStart, "", nil)
	first.Log(EventBotStop, "", nil)
	first.Close()

	second, err := NewLogger(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	second.Log(EventBotStart, "", nil)
	second.Close()

	if n, err := VerifyFile(path); err != nil || n != 3 {
		t.Fatalf("VerifyFile = %d, %v; want 3, nil", n, err)
	}
}

func TestRotationSentinelCrossFileHashChain(t *testing.T) {
	l := newTestLogger(t)
	l.maxSize = 300

	for i := 0; i < 10; i++ {
		l.Log(EventStatusQueried, "42", map[string]any{"i": i})
	}
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) == 0 {
		t.Fatal("no entries in current file after rotation")
	}
	if entries[0].EventType != EventLogRotated {
		t.Fatalf("first entry eventType = %q, want %q", entries[0].EventType, EventLogRotated)
	}
	if prevFile, _ := entries[0].Details["previousFile"].(string); prevFile == "" {
		t.Fatal("sentinel has no previousFile in details")
	}

	backup := readEntries(t, l.filePath+".1")
	if len(backup) == 0 {
		t.Fatal("no entries in backup file")
	}
	if entries[0].PrevHash != backup[len(backup)-1].EntryHash {
		t.Fatalf("sentinel prevHash = %q, want last backup hash %q", entries[0].PrevHash, backup[len(backup)-1].EntryHash)
	}
	if _, err := VerifyFile(l.filePath); err != nil {
		t.Fatalf("rotated file should verify: %v", err)
	}
}

func TestCriticalEventsSet(t *testing.T) {
	for _, e := range []string{EventBotStart, EventBotStop, EventLoginSucceeded, EventLoginFailed, EventLogout} {
		if !criticalEvents[e] {
			t.Errorf("event %q should be critical", e)
		}
	}
	for _, e := range []string{EventLoginPrompted, EventStatusQueried, EventAlertDelivered} {
		if criticalEvents[e] {
			t.Errorf("event %q should not be critical", e)
		}
	}
}

func TestDroppedCountIncrementsOnWriteFailure(t *testing.T) {
	l := newTestLogger(t)

	l.file.Close()
	f, err := os.Open(l.filePath) // read-only
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	l.file = f

	l.Log(EventStatusQueried, "42", nil)

	if got := l.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
	l.file.Close()
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	l := newTestLogger(t)
	l.Close()
	l.Log(EventBotStop, "", nil)
	if got := l.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
}

// --- helpers ---

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := &Logger{
		filePath:   filepath.Join(t.TempDir(), "audit.jsonl"),
		maxSize:    50 * 1024 * 1024,
		maxBackups: 3,
		prevHash:   genesisHash,
	}
	if err := l.openFile(); err != nil {
		t.Fatalf("openFile: %v", err)
	}
	return l
}

func readEntries(t *testing.T, filePath string) []Entry {
	t.Helper()
	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}
