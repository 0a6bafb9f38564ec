package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/fusionn-scribe/internal/config"
	"github.com/fusionn-scribe/internal/fileops"
	"github.com/fusionn-scribe/pkg/logger"
)

const openAIModel = "whisper-1"

// Model names that only make sense for a locally installed whisper.
var localModels = map[string]bool{
	"tiny": true, "tiny.en": true, "base": true, "base.en": true,
	"small": true, "small.en": true, "medium": true, "medium.en": true,
	"large": true, "large-v1": true, "large-v2": true, "large-v3": true, "large-v3-turbo": true, "turbo": true,
}

// Whisper handles transcription via a local whisper CLI or the OpenAI API.
type Whisper struct {
	cfg      config.WhisperConfig
	runner   commandRunner
	lookPath func(file string) (string, error)
	client   *resty.Client
	limiter  *rate.Limiter
}

// NewWhisper creates a new Whisper executor.
func NewWhisper(cfg config.WhisperConfig) *Whisper {
	w := &Whisper{cfg: cfg, runner: execRunner{}, lookPath: exec.LookPath}

	if w.provider() == "openai" {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com"
		}
		w.client = resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(10 * time.Minute).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			})
	}

	if cfg.RateLimitRPM > 0 {
		// Convert RPM to rate per second
		rps := float64(cfg.RateLimitRPM) / 60.0
		w.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		logger.Infof("🚦 Transcription rate limit: %d RPM", cfg.RateLimitRPM)
	}

	return w
}

func (w *Whisper) provider() string {
	return strings.ToLower(w.cfg.Provider)
}

func (w *Whisper) model() string {
	if w.provider() == "openai" {
		if w.cfg.Model == "" || localModels[w.cfg.Model] {
			return openAIModel
		}
		return w.cfg.Model
	}
	if w.cfg.Model == "" {
		return "small"
	}
	return w.cfg.Model
}

// Load checks that the configured model can be used before any segment is sent.
func (w *Whisper) Load(ctx context.Context) error {
	switch w.provider() {
	case "openai":
		if w.cfg.APIKey == "" {
			return fmt.Errorf("openai provider requires an api key")
		}
		logger.Infof("🧠 Model: %s via %s", w.model(), w.client.BaseURL)
		return nil
	default:
		path, err := w.lookPath(w.cfg.Command)
		if err != nil {
			return fmt.Errorf("whisper command %q not found: %w", w.cfg.Command, err)
		}
		// whisper accepts a known model name or a checkpoint file.
		if model := w.model(); !localModels[model] && !fileops.Exists(model) {
			return fmt.Errorf("unknown whisper model %q", model)
		}
		logger.Infof("🧠 Model: %s via %s", w.model(), path)
		return nil
	}
}

// Transcribe returns the plain-text transcript of one audio segment.
// Silent or very short segments yield an empty string, not an error.
func (w *Whisper) Transcribe(ctx context.Context, segmentPath, language string) (string, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	switch w.provider() {
	case "openai":
		return w.transcribeOpenAI(ctx, segmentPath, language)
	default:
		return w.transcribeLocal(ctx, segmentPath, language)
	}
}

// transcribeLocal runs the whisper CLI with a private output directory.
func (w *Whisper) transcribeLocal(ctx context.Context, segmentPath, language string) (string, error) {
	outputDir, err := os.MkdirTemp("", "fusionn-scribe-*")
	if err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := w.localArgs(segmentPath, outputDir, language)

	logger.Infof("🎤 Transcribing (whisper %s): %s", w.model(), filepath.Base(segmentPath))

	res, err := w.runner.Run(ctx, w.cfg.Command, args...)
	if err != nil {
		return "", fmt.Errorf("transcription failed (exit %d): %w\nStderr: %s", res.ExitCode, err, strings.TrimSpace(res.Stderr))
	}
	if strings.Contains(res.Stderr, "Traceback") {
		return "", fmt.Errorf("transcription reported errors:\n%s", res.Stderr)
	}

	txtPath := filepath.Join(outputDir, fileops.BaseName(segmentPath)+".txt")
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("transcript not created: %w\nOutput: %s", err, res.Stdout)
	}

	return strings.TrimSpace(string(data)), nil
}

func (w *Whisper) localArgs(segmentPath, outputDir, language string) []string {
	args := []string{
		segmentPath,
		"--model", w.model(),
		"--output_format", "txt",
		"--output_dir", outputDir,
		"--fp16", "False",
		"--verbose", "False",
	}
	if language != "" && language != "auto" {
		args = append(args, "--language", language)
	}
	return args
}

// transcribeOpenAI uploads the segment to an OpenAI-compatible transcription endpoint.
func (w *Whisper) transcribeOpenAI(ctx context.Context, segmentPath, language string) (string, error) {
	logger.Infof("🎤 Transcribing (API %s): %s", w.model(), filepath.Base(segmentPath))

	form := map[string]string{
		"model":           w.model(),
		"response_format": "text",
	}
	if language != "" && language != "auto" {
		form["language"] = language
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetAuthToken(w.cfg.APIKey).
		SetFile("file", segmentPath).
		SetFormData(form).
		Post("/v1/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("api request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(resp.Body(), &errResp); jsonErr != nil || errResp.Error.Message == "" {
			return "", fmt.Errorf("openai api error (%d): %s", resp.StatusCode(), resp.String())
		}
		return "", fmt.Errorf("openai api error (%d): %s", resp.StatusCode(), errResp.Error.Message)
	}

	return strings.TrimSpace(resp.String()), nil
}
