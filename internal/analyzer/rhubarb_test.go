package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRhubarb writes an executable shell script standing in for the rhubarb binary
func fakeRhubarb(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	script := "#!/bin/sh\n" +
		"out=\"\"\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"-o\" ]; then out=\"$2\"; shift; fi\n" +
		"  shift\n" +
		"done\n" +
		body + "\n"

	path := filepath.Join(t.TempDir(), "rhubarb")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake rhubarb: %v", err)
	}
	return path
}

func testSegment(t *testing.T, index int, seconds float64) audio.Segment {
	t.Helper()

	sampleRate := 1000
	buf, err := audio.NewBuffer(sampleRate, make([]byte, int(seconds*float64(sampleRate))*2))
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	return audio.Segment{Index: index, StartOffset: float64(index) * seconds, Audio: buf}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected segment artifacts to be removed, found %v", names)
	}
}

func TestRhubarbAnalyze(t *testing.T) {
	bin := fakeRhubarb(t, `cat > "$out" <<'JSON'
{"mouthCues":[{"start":0.00,"end":0.50,"value":"X"},{"start":0.50,"end":1.00,"value":"A"}]}
JSON`)
	workDir := t.TempDir()

	r, err := NewRhubarb(RhubarbConfig{BinaryPath: bin, WorkDir: workDir, Timeout: 5 * time.Second}, testLogger())
	if err != nil {
		t.Fatalf("NewRhubarb failed: %v", err)
	}

	cues, err := r.Analyze(context.Background(), testSegment(t, 0, 1))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(cues) != 2 || cues[1].Value != "A" || cues[1].End != 1.0 {
		t.Errorf("Unexpected cues: %v", cues)
	}

	assertEmptyDir(t, workDir)

	stats := r.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRhubarbUsesContextWorkspace(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "cwd")
	bin := fakeRhubarb(t, `pwd > "`+marker+`"
echo '{"mouthCues":[]}' > "$out"`)

	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New failed: %v", err)
	}
	r, _ := NewRhubarb(RhubarbConfig{BinaryPath: bin, WorkDir: t.TempDir()}, testLogger())

	ctx := workspace.NewContext(context.Background(), ws)
	if _, err := r.Analyze(ctx, testSegment(t, 2, 1)); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	cwd, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("Failed to read marker: %v", err)
	}

	resolved, _ := filepath.EvalSymlinks(ws.Dir)
	if !strings.HasPrefix(strings.TrimSpace(string(cwd)), resolved) &&
		!strings.HasPrefix(strings.TrimSpace(string(cwd)), ws.Dir) {
		t.Errorf("Expected rhubarb to run inside %s, ran in %s", ws.Dir, cwd)
	}

	assertEmptyDir(t, ws.Dir)
}

func TestRhubarbEngineFailure(t *testing.T) {
	bin := fakeRhubarb(t, `echo "unsupported file" >&2
exit 3`)
	workDir := t.TempDir()

	r, _ := NewRhubarb(RhubarbConfig{BinaryPath: bin, WorkDir: workDir}, testLogger())

	_, err := r.Analyze(context.Background(), testSegment(t, 5, 1))

	var ae *AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("Expected AnalysisError, got %v", err)
	}
	if ae.SegmentIndex != 5 {
		t.Errorf("Expected segment index 5, got %d", ae.SegmentIndex)
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got %v", err)
	}
	if engineErr.ExitCode != 3 || engineErr.Detail != "unsupported file" {
		t.Errorf("Unexpected engine error: %+v", engineErr)
	}

	assertEmptyDir(t, workDir)
}

func TestRhubarbMalformedOutput(t *testing.T) {
	bin := fakeRhubarb(t, `echo 'not json' > "$out"`)
	workDir := t.TempDir()

	r, _ := NewRhubarb(RhubarbConfig{BinaryPath: bin, WorkDir: workDir, MaxRetries: 2}, testLogger())

	_, err := r.Analyze(context.Background(), testSegment(t, 0, 1))
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("Expected ErrMalformedOutput, got %v", err)
	}

	if retries := r.GetStats().TotalRetries; retries != 0 {
		t.Errorf("Malformed output must not be retried, got %d retries", retries)
	}

	assertEmptyDir(t, workDir)
}

func TestRhubarbMissingOutput(t *testing.T) {
	bin := fakeRhubarb(t, `exit 0`)

	r, _ := NewRhubarb(RhubarbConfig{BinaryPath: bin, WorkDir: t.TempDir()}, testLogger())

	_, err := r.Analyze(context.Background(), testSegment(t, 0, 1))
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("Expected ErrMalformedOutput, got %v", err)
	}
}

func TestRhubarbTimeout(t *testing.T) {
	bin := fakeRhubarb(t, `exec sleep 5`)
	workDir := t.TempDir()

	r, _ := NewRhubarb(RhubarbConfig{
		BinaryPath: bin,
		WorkDir:    workDir,
		Timeout:    100 * time.Millisecond,
	}, testLogger())

	start := time.Now()
	_, err := r.Analyze(context.Background(), testSegment(t, 1, 1))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}

	assertEmptyDir(t, workDir)
}

func TestRhubarbRetry(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "attempts")
	bin := fakeRhubarb(t, `if [ ! -f "`+counter+`" ]; then
  touch "`+counter+`"
  echo "transient" >&2
  exit 1
fi
echo '{"mouthCues":[{"start":0,"end":1,"value":"X"}]}' > "$out"`)

	r, _ := NewRhubarb(RhubarbConfig{
		BinaryPath:   bin,
		WorkDir:      t.TempDir(),
		MaxRetries:   2,
		RetryBackoff: 10 * time.Millisecond,
	}, testLogger())

	cues, err := r.Analyze(context.Background(), testSegment(t, 0, 1))
	if err != nil {
		t.Fatalf("Analyze failed after retry: %v", err)
	}
	if len(cues) != 1 {
		t.Errorf("Expected 1 cue, got %v", cues)
	}

	if retries := r.GetStats().TotalRetries; retries != 1 {
		t.Errorf("Expected 1 retry, got %d", retries)
	}
}

func TestRhubarbCanceledContext(t *testing.T) {
	bin := fakeRhubarb(t, `exec sleep 5`)

	r, _ := NewRhubarb(RhubarbConfig{BinaryPath: bin, WorkDir: t.TempDir(), MaxRetries: 3}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.Analyze(ctx, testSegment(t, 0, 1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewRhubarbValidation(t *testing.T) {
	if _, err := NewRhubarb(RhubarbConfig{}, nil); err == nil {
		t.Error("Expected error for empty binary path")
	}

	r, err := NewRhubarb(RhubarbConfig{BinaryPath: "rhubarb"}, nil)
	if err != nil {
		t.Fatalf("NewRhubarb failed: %v", err)
	}
	if r.config.Recognizer != "phonetic" {
		t.Errorf("Expected default recognizer phonetic, got %s", r.config.Recognizer)
	}
	if r.config.Timeout != 60*time.Second {
		t.Errorf("Expected default timeout 60s, got %v", r.config.Timeout)
	}
}
