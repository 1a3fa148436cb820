package console

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

var linePattern = regexp.MustCompile(`^\d{2,}:\d{2}:\d{2} - `)

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{5 * time.Second, "00:00:05"},
		{61 * time.Second, "00:01:01"},
		{3723 * time.Second, "01:02:03"},
		{100*time.Hour + 30*time.Minute, "100:30:00"},
	}
	for _, c := range cases {
		if got := formatElapsed(c.d); got != c.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestLineFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info(`My address is "127.0.0.1:8080"`)

	got := buf.String()
	if !linePattern.MatchString(got) {
		t.Fatalf("line %q does not start with an elapsed clock", got)
	}
	if !strings.HasSuffix(got, "My address is \"127.0.0.1:8080\"\n") {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestAttrsAppended(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info("peer gone", "addr", "127.0.0.1:9999", "count", 3)

	got := buf.String()
	if !strings.Contains(got, "peer gone addr=127.0.0.1:9999 count=3") {
		t.Fatalf("attrs not rendered: %q", got)
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.With("node", "a").WithGroup("conn").Info("opened", "addr", "127.0.0.1:1")

	got := buf.String()
	if !strings.Contains(got, "opened node=a conn.addr=127.0.0.1:1") {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo))

	log.Debug("hidden")
	log.Info("shown")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug line should have been filtered: %q", got)
	}
	if !strings.Contains(got, "shown") {
		t.Fatalf("info line missing: %q", got)
	}
}

func TestConcurrentWritesKeepLinesIntact(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Info("tick tick tick")
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !linePattern.MatchString(line) || !strings.HasSuffix(line, "tick tick tick") {
			t.Fatalf("mangled line %q", line)
		}
	}
}
