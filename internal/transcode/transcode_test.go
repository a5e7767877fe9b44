package transcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFFmpeg writes a shell script that handles the output path (last argument) with body
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	script := "#!/bin/sh\nfor a; do out=\"$a\"; done\n" + body + "\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake ffmpeg: %v", err)
	}
	return path
}

func wavFixture(t *testing.T, sampleRate int, samples []int16) (string, []byte) {
	t.Helper()

	buf, err := audio.NewBufferFromSamples(sampleRate, samples)
	if err != nil {
		t.Fatalf("NewBufferFromSamples failed: %v", err)
	}
	data, err := audio.EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fixture.wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path, data
}

func TestFFmpegTranscode(t *testing.T) {
	fixture, _ := wavFixture(t, 44100, []int16{1, 2, 3, 4})
	bin := fakeFFmpeg(t, `cp "`+fixture+`" "$out"`)

	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New failed: %v", err)
	}

	ff, err := NewFFmpeg(FFmpegConfig{BinaryPath: bin}, testLogger())
	if err != nil {
		t.Fatalf("NewFFmpeg failed: %v", err)
	}

	ctx := workspace.NewContext(context.Background(), ws)
	buf, err := ff.Transcode(ctx, []byte("ID3 fake mp3 payload"))
	if err != nil {
		t.Fatalf("Transcode failed: %v", err)
	}

	if buf.SampleRate() != 44100 || buf.SampleCount() != 4 {
		t.Errorf("Unexpected buffer: %+v", buf.GetStats())
	}

	entries, _ := os.ReadDir(ws.Dir)
	if len(entries) != 0 {
		t.Errorf("Expected transcode artifacts to be removed, found %d entries", len(entries))
	}
}

func TestFFmpegFailure(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "Invalid data found when processing input" >&2
exit 1`)
	workDir := t.TempDir()

	ff, _ := NewFFmpeg(FFmpegConfig{BinaryPath: bin, WorkDir: workDir}, testLogger())

	_, err := ff.Transcode(context.Background(), []byte("garbage"))
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("Expected ErrConversion, got %v", err)
	}

	entries, _ := os.ReadDir(workDir)
	if len(entries) != 0 {
		t.Errorf("Expected transcode artifacts to be removed on failure, found %d entries", len(entries))
	}
}

func TestFFmpegInvalidOutput(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "not a wav" > "$out"`)

	ff, _ := NewFFmpeg(FFmpegConfig{BinaryPath: bin, WorkDir: t.TempDir()}, testLogger())

	_, err := ff.Transcode(context.Background(), []byte("data"))
	if !errors.Is(err, ErrConversion) {
		t.Errorf("Expected ErrConversion, got %v", err)
	}
}

func TestFFmpegTimeout(t *testing.T) {
	bin := fakeFFmpeg(t, `exec sleep 5`)

	ff, _ := NewFFmpeg(FFmpegConfig{BinaryPath: bin, WorkDir: t.TempDir(), Timeout: 100 * time.Millisecond}, testLogger())

	_, err := ff.Transcode(context.Background(), []byte("data"))
	if !errors.Is(err, ErrConversion) {
		t.Errorf("Expected ErrConversion on timeout, got %v", err)
	}
}

func TestFFmpegEmptyInput(t *testing.T) {
	ff, _ := NewFFmpeg(FFmpegConfig{BinaryPath: "ffmpeg"}, testLogger())

	if _, err := ff.Transcode(context.Background(), nil); !errors.Is(err, ErrConversion) {
		t.Errorf("Expected ErrConversion for empty input, got %v", err)
	}
}

func TestWAVTranscoder(t *testing.T) {
	_, data := wavFixture(t, 16000, []int16{5, 6, 7})

	buf, err := WAV{}.Transcode(context.Background(), data)
	if err != nil {
		t.Fatalf("Transcode failed: %v", err)
	}
	if buf.SampleCount() != 3 {
		t.Errorf("Expected 3 samples, got %d", buf.SampleCount())
	}

	if _, err := (WAV{SampleRate: 44100}).Transcode(context.Background(), data); !errors.Is(err, ErrConversion) {
		t.Errorf("Expected ErrConversion for sample rate mismatch, got %v", err)
	}

	if _, err := (WAV{}).Transcode(context.Background(), []byte("mp3")); !errors.Is(err, ErrConversion) {
		t.Errorf("Expected ErrConversion for non-WAV input, got %v", err)
	}
}
