package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fusionn-scribe/internal/config"
)

// fakeRunner simulates command execution.
type fakeRunner struct {
	run   func(name string, args ...string) (commandResult, error)
	calls []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name)
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(name, args...)
}

func foundTool(file string) (string, error) { return "/usr/bin/" + file, nil }

func missingTool(file string) (string, error) {
	return "", fmt.Errorf("exec: %q: executable file not found in $PATH", file)
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func newTestFFmpeg(r commandRunner) *FFmpeg {
	f := NewFFmpeg(config.FFmpegConfig{})
	f.runner = r
	f.lookPath = foundTool
	return f
}

func TestDecodeWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "job", "talk_converted.wav")

	var gotArgs []string
	runner := &fakeRunner{run: func(name string, args ...string) (commandResult, error) {
		gotArgs = args
		target := args[len(args)-1]
		if target == out {
			t.Fatalf("ffmpeg must write to a temp path, got final path")
		}
		mustWriteFile(t, target, "RIFF....WAVE")
		return commandResult{}, nil
	}}

	if err := newTestFFmpeg(runner).Decode(context.Background(), "/in/talk.mp3", out); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil || string(data) != "RIFF....WAVE" {
		t.Fatalf("decoded output = %q, %v", data, err)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}

	for flag, want := range map[string]string{"-ar": "16000", "-ac": "1", "-c:a": "pcm_s16le", "-fflags": "+bitexact", "-i": "/in/talk.mp3"} {
		if got := argValue(gotArgs, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}
}

func TestDecodeFailureLeavesNoOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "talk_converted.wav")
	runner := &fakeRunner{run: func(name string, args ...string) (commandResult, error) {
		mustWriteFile(t, args[len(args)-1], "partial")
		return commandResult{ExitCode: 1, Stderr: "Invalid data found when processing input"}, errors.New("exit status 1")
	}}

	err := newTestFFmpeg(runner).Decode(context.Background(), "/in/bad.mp3", out)
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("Decode error = %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("failed decode must not leave an output file")
	}
	if _, statErr := os.Stat(out + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatal("failed decode must not leave a temp file")
	}
}

func TestDecodeMissingFFmpeg(t *testing.T) {
	runner := &fakeRunner{}
	f := newTestFFmpeg(runner)
	f.lookPath = missingTool

	if err := f.Decode(context.Background(), "/in/a.mp3", filepath.Join(t.TempDir(), "a.wav")); err == nil {
		t.Fatal("expected error when ffmpeg is missing")
	}
	if len(runner.calls) != 0 {
		t.Fatalf("runner called without ffmpeg: %v", runner.calls)
	}
}

// segmentingRunner emulates ffmpeg's segment muxer and ffprobe.
func segmentingRunner(t *testing.T, segments int, probed string) *fakeRunner {
	return &fakeRunner{run: func(name string, args ...string) (commandResult, error) {
		switch name {
		case "ffmpeg":
			pattern := args[len(args)-1]
			for i := 0; i < segments; i++ {
				mustWriteFile(t, fmt.Sprintf(pattern, i), fmt.Sprintf("seg%d", i))
			}
			return commandResult{}, nil
		case "ffprobe":
			return commandResult{Stdout: probed + "\n"}, nil
		default:
			t.Fatalf("unexpected command %s", name)
			return commandResult{}, nil
		}
	}}
}

func TestSegmentReplacesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio_chunks")
	mustWriteFile(t, filepath.Join(dir, "chunk_0007.wav"), "stale")

	runner := segmentingRunner(t, 3, "25.000000")
	paths, err := newTestFFmpeg(runner).Segment(context.Background(), "/job/talk.wav", dir, 10*time.Second)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}

	if len(paths) != 3 {
		t.Fatalf("got %d segments, want 3", len(paths))
	}
	for i, p := range paths {
		want := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i))
		if p != want {
			t.Fatalf("segment %d = %s, want %s", i, p, want)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("segment %d missing: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "chunk_0007.wav")); !os.IsNotExist(err) {
		t.Fatal("stale segment survived resegmentation")
	}
	if _, err := os.Stat(dir + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp segment dir left behind")
	}
}

func TestSegmentOrdersPastFourDigits(t *testing.T) {
	const count = 10002
	dir := filepath.Join(t.TempDir(), "audio_chunks")
	runner := segmentingRunner(t, count, "10002.0")

	paths, err := newTestFFmpeg(runner).Segment(context.Background(), "/job/talk.wav", dir, time.Second)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(paths) != count {
		t.Fatalf("got %d segments, want %d", len(paths), count)
	}
	for _, i := range []int{0, 999, 1000, 9998, 9999, 10000, 10001} {
		want := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i))
		if paths[i] != want {
			t.Fatalf("segment %d = %s, want %s", i, filepath.Base(paths[i]), filepath.Base(want))
		}
		if data, _ := os.ReadFile(paths[i]); string(data) != fmt.Sprintf("seg%d", i) {
			t.Fatalf("segment %d holds %q", i, data)
		}
	}
}

func TestOrderSegmentsRejectsBadSets(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{"gap", []string{"/d/chunk_0000.wav", "/d/chunk_0002.wav"}},
		{"duplicate index", []string{"/d/chunk_0000.wav", "/d/chunk_0.wav"}},
		{"foreign file", []string{"/d/chunk_0000.wav", "/d/notes.txt"}},
		{"no digits", []string{"/d/chunk_.wav"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := orderSegments(tt.files); err == nil {
				t.Fatalf("orderSegments(%v) succeeded", tt.files)
			}
		})
	}
}

func TestSegmentCoverageMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio_chunks")
	mustWriteFile(t, filepath.Join(dir, "chunk_0000.wav"), "previous")

	runner := segmentingRunner(t, 3, "100.0")
	if _, err := newTestFFmpeg(runner).Segment(context.Background(), "/job/talk.wav", dir, 10*time.Second); err == nil {
		t.Fatal("expected coverage mismatch error")
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "chunk_0000.wav")); string(data) != "previous" {
		t.Fatal("failed segmentation must leave the previous directory untouched")
	}
}

func TestSegmentSkipsCoverageWhenProbeFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio_chunks")
	runner := segmentingRunner(t, 2, "N/A")

	paths, err := newTestFFmpeg(runner).Segment(context.Background(), "/job/talk.wav", dir, time.Minute)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d segments, want 2", len(paths))
	}
}

func TestExpectedSegments(t *testing.T) {
	tests := []struct {
		seconds float64
		dur     time.Duration
		want    int
	}{
		{0, time.Minute, 0},
		{59.9, time.Minute, 1},
		{60, time.Minute, 1},
		{60.1, time.Minute, 2},
		{3600, 10 * time.Minute, 6},
	}
	for _, tt := range tests {
		if got := ExpectedSegments(tt.seconds, tt.dur); got != tt.want {
			t.Errorf("ExpectedSegments(%v, %v) = %d, want %d", tt.seconds, tt.dur, got, tt.want)
		}
	}
}

func newTestWhisper(cfg config.WhisperConfig, r commandRunner) *Whisper {
	w := NewWhisper(cfg)
	w.runner = r
	w.lookPath = foundTool
	return w
}

func TestTranscribeLocal(t *testing.T) {
	var gotArgs []string
	runner := &fakeRunner{run: func(name string, args ...string) (commandResult, error) {
		gotArgs = args
		outDir := argValue(args, "--output_dir")
		mustWriteFile(t, filepath.Join(outDir, "chunk_0002.txt"), " hello world\n")
		return commandResult{}, nil
	}}

	w := newTestWhisper(config.WhisperConfig{Provider: "local", Model: "medium", Command: "whisper"}, runner)
	text, err := w.Transcribe(context.Background(), "/job/audio_chunks/chunk_0002.wav", "it")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
	if argValue(gotArgs, "--model") != "medium" || argValue(gotArgs, "--language") != "it" {
		t.Fatalf("unexpected args: %v", gotArgs)
	}
}

func TestTranscribeLocalSilentSegment(t *testing.T) {
	runner := &fakeRunner{run: func(name string, args ...string) (commandResult, error) {
		mustWriteFile(t, filepath.Join(argValue(args, "--output_dir"), "chunk_0000.txt"), "")
		return commandResult{}, nil
	}}

	w := newTestWhisper(config.WhisperConfig{Command: "whisper"}, runner)
	text, err := w.Transcribe(context.Background(), "/job/audio_chunks/chunk_0000.wav", "")
	if err != nil {
		t.Fatalf("silent segment must not fail: %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty", text)
	}
}

func TestTranscribeLocalAutoLanguageOmitsFlag(t *testing.T) {
	w := newTestWhisper(config.WhisperConfig{}, &fakeRunner{})
	args := w.localArgs("/a.wav", "/out", "auto")
	for _, a := range args {
		if a == "--language" {
			t.Fatalf("auto language must not be passed: %v", args)
		}
	}
	if argValue(args, "--model") != "small" {
		t.Fatalf("default model not applied: %v", args)
	}
}

func TestTranscribeLocalFailures(t *testing.T) {
	tests := []struct {
		name string
		run  func(name string, args ...string) (commandResult, error)
	}{
		{"non-zero exit", func(string, ...string) (commandResult, error) {
			return commandResult{ExitCode: 1, Stderr: "RuntimeError"}, errors.New("exit status 1")
		}},
		{"traceback", func(string, ...string) (commandResult, error) {
			return commandResult{Stderr: "Traceback (most recent call last):"}, nil
		}},
		{"no transcript written", func(string, ...string) (commandResult, error) {
			return commandResult{}, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWhisper(config.WhisperConfig{Command: "whisper"}, &fakeRunner{run: tt.run})
			if _, err := w.Transcribe(context.Background(), "/job/chunk_0000.wav", ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadLocalMissingCommand(t *testing.T) {
	w := newTestWhisper(config.WhisperConfig{Command: "whisper"}, &fakeRunner{})
	w.lookPath = missingTool
	if err := w.Load(context.Background()); err == nil {
		t.Fatal("expected error when whisper command is missing")
	}
}

func TestLoadLocalModel(t *testing.T) {
	checkpoint := filepath.Join(t.TempDir(), "custom.pt")
	mustWriteFile(t, checkpoint, "weights")

	tests := []struct {
		name    string
		model   string
		wantErr bool
	}{
		{"default", "", false},
		{"known name", "medium.en", false},
		{"checkpoint file", checkpoint, false},
		{"typo", "smal", true},
		{"missing checkpoint", filepath.Join(t.TempDir(), "gone.pt"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWhisper(config.WhisperConfig{Command: "whisper", Model: tt.model}, &fakeRunner{})
			err := w.Load(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTranscribeOpenAI(t *testing.T) {
	segment := filepath.Join(t.TempDir(), "chunk_0000.wav")
	mustWriteFile(t, segment, "RIFF")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" || r.FormValue("response_format") != "text" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			body, _ := io.ReadAll(file)
			if string(body) != "RIFF" {
				t.Errorf("uploaded %q", body)
			}
		}
		_, _ = io.WriteString(w, "hello from the api\n")
	}))
	defer srv.Close()

	w := NewWhisper(config.WhisperConfig{Provider: "openai", Model: "small", APIKey: "sk-test", BaseURL: srv.URL})
	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	text, err := w.Transcribe(context.Background(), segment, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the api" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeOpenAIError(t *testing.T) {
	segment := filepath.Join(t.TempDir(), "chunk_0000.wav")
	mustWriteFile(t, segment, "RIFF")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"audio too short"}}`)
	}))
	defer srv.Close()

	w := NewWhisper(config.WhisperConfig{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL})
	_, err := w.Transcribe(context.Background(), segment, "")
	if err == nil || !strings.Contains(err.Error(), "audio too short") {
		t.Fatalf("error = %v", err)
	}
}
