package executor

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fusionn-scribe/internal/config"
	"github.com/fusionn-scribe/internal/fileops"
	"github.com/fusionn-scribe/pkg/logger"
)

// segmentPattern is the fixed-width name ffmpeg gives each segment.
const segmentPattern = "chunk_%04d.wav"

// FFmpeg decodes and segments audio with the ffmpeg/ffprobe tools.
type FFmpeg struct {
	cfg      config.FFmpegConfig
	runner   commandRunner
	lookPath func(file string) (string, error)
}

// NewFFmpeg creates the decode/segment executor.
func NewFFmpeg(cfg config.FFmpegConfig) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &FFmpeg{cfg: cfg, runner: execRunner{}, lookPath: exec.LookPath}
}

// Decode writes a mono, fixed-rate, 16-bit PCM WAV of inputPath to outputPath.
// The file appears at outputPath only once ffmpeg has finished; bit-exact flags
// make repeated runs byte-identical.
func (f *FFmpeg) Decode(ctx context.Context, inputPath, outputPath string) error {
	if _, err := f.lookPath(f.cfg.Path); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if err := fileops.EnsureDir(filepath.Dir(outputPath)); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpPath := fileops.TempPath(outputPath)
	_ = fileops.Remove(tmpPath)

	logger.Infof("🎧 Decoding: %s (%d Hz, mono)", filepath.Base(inputPath), f.cfg.SampleRate)

	res, err := f.runner.Run(ctx, f.cfg.Path, f.decodeArgs(inputPath, tmpPath)...)
	if err != nil {
		_ = fileops.Remove(tmpPath)
		return fmt.Errorf("ffmpeg decode failed (exit %d): %w\nStderr: %s", res.ExitCode, err, strings.TrimSpace(res.Stderr))
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("decoded audio not created: %w", err)
	}
	if info.Size() == 0 {
		_ = fileops.Remove(tmpPath)
		return fmt.Errorf("decoded audio is empty")
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("rename decoded audio: %w", err)
	}

	logger.Infof("✅ Decoded: %s", filepath.Base(outputPath))
	return nil
}

func (f *FFmpeg) decodeArgs(inputPath, outputPath string) []string {
	// -vn: drop cover art / video
	// -map_metadata -1 and +bitexact: no encoder tags, deterministic output
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-vn",
		"-map_metadata", "-1",
		"-ac", "1",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-c:a", "pcm_s16le",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		"-f", "wav",
		outputPath,
	}
}

// Segment splits inputPath into consecutive files of the given duration inside dir,
// replacing whatever dir held before. The last segment may be shorter.
// Returned paths are in index order.
func (f *FFmpeg) Segment(ctx context.Context, inputPath, dir string, duration time.Duration) ([]string, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %v", duration)
	}
	if _, err := f.lookPath(f.cfg.Path); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	tmpDir := fileops.TempPath(dir)
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("clear temp dir: %w", err)
	}
	if err := fileops.EnsureDir(tmpDir); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	logger.Infof("✂️ Segmenting: %s into %v pieces", filepath.Base(inputPath), duration)

	res, err := f.runner.Run(ctx, f.cfg.Path, f.segmentArgs(inputPath, tmpDir, duration)...)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("ffmpeg segment failed (exit %d): %w\nStderr: %s", res.ExitCode, err, strings.TrimSpace(res.Stderr))
	}

	listed, err := fileops.ListFiles(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	produced, err := orderSegments(listed)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}
	if len(produced) == 0 {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("ffmpeg produced no segments")
	}

	if err := f.checkCoverage(ctx, inputPath, duration, len(produced)); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}

	if err := fileops.ReplaceDir(tmpDir, dir); err != nil {
		return nil, err
	}

	paths := make([]string, len(produced))
	for i, p := range produced {
		paths[i] = filepath.Join(dir, filepath.Base(p))
	}

	logger.Infof("✅ Created %d segments in %s", len(paths), dir)
	return paths, nil
}

func (f *FFmpeg) segmentArgs(inputPath, dir string, duration time.Duration) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-map", "0:a",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.FormatFloat(duration.Seconds(), 'f', -1, 64),
		"-reset_timestamps", "1",
		filepath.Join(dir, segmentPattern),
	}
}

// orderSegments sorts segment files by their numeric index. The %04d pattern
// widens past chunk_9999.wav, so name order stops matching index order there.
// Indices must run 0..n-1 without gaps.
func orderSegments(paths []string) ([]string, error) {
	type indexed struct {
		idx  int
		path string
	}
	items := make([]indexed, 0, len(paths))
	for _, p := range paths {
		idx, err := segmentIndex(filepath.Base(p))
		if err != nil {
			return nil, err
		}
		items = append(items, indexed{idx: idx, path: p})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })

	ordered := make([]string, len(items))
	for i, it := range items {
		if it.idx != i {
			return nil, fmt.Errorf("segment %d missing, next file is %s", i, filepath.Base(it.path))
		}
		ordered[i] = it.path
	}
	return ordered, nil
}

// segmentIndex parses the index out of a chunk_NNNN.wav name.
func segmentIndex(name string) (int, error) {
	digits, ok := strings.CutPrefix(name, "chunk_")
	if ok {
		digits, ok = strings.CutSuffix(digits, ".wav")
	}
	if !ok || digits == "" {
		return 0, fmt.Errorf("unexpected file in segment output: %s", name)
	}
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("unexpected file in segment output: %s", name)
	}
	return idx, nil
}

// checkCoverage compares the segment count against the probed source length.
// ffmpeg cuts on packet boundaries, so one segment of slack is allowed.
func (f *FFmpeg) checkCoverage(ctx context.Context, inputPath string, duration time.Duration, count int) error {
	seconds, err := f.Probe(ctx, inputPath)
	if err != nil {
		logger.Warnf("⚠️ Skipping segment coverage check: %v", err)
		return nil
	}

	expected := ExpectedSegments(seconds, duration)
	if diff := count - expected; diff > 1 || diff < -1 {
		return fmt.Errorf("segment coverage mismatch: %d segments for %.1fs of audio, expected %d", count, seconds, expected)
	}
	return nil
}

// ExpectedSegments is how many segments of the given duration cover seconds of audio.
func ExpectedSegments(seconds float64, duration time.Duration) int {
	if seconds <= 0 || duration <= 0 {
		return 0
	}
	return int(math.Ceil(seconds / duration.Seconds()))
}

// Probe returns the duration of an audio file in seconds.
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (float64, error) {
	if _, err := f.lookPath(f.cfg.FFprobePath); err != nil {
		return 0, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	res, err := f.runner.Run(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		inputPath,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w\nStderr: %s", err, strings.TrimSpace(res.Stderr))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return seconds, nil
}
