package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fusionn-scribe/internal/fileops"
	"github.com/fusionn-scribe/internal/ledger"
	"github.com/fusionn-scribe/internal/session"
	"github.com/fusionn-scribe/pkg/logger"
	"github.com/fusionn-scribe/pkg/schema"
)

// Separator placed between segment transcripts in the final output.
const Separator = "\n\n"

// Decoder normalizes compressed audio into a mono, fixed-rate WAV.
type Decoder interface {
	Decode(ctx context.Context, inputPath, outputPath string) error
}

// Segmenter splits normalized audio into ordered fixed-duration files inside dir.
type Segmenter interface {
	Segment(ctx context.Context, inputPath, dir string, duration time.Duration) ([]string, error)
}

// Transcriber turns one segment into text. Load is called once, before the first segment that needs it.
type Transcriber interface {
	Load(ctx context.Context) error
	Transcribe(ctx context.Context, segmentPath, language string) (string, error)
}

// Publisher receives lifecycle events. Delivery failures are logged and ignored.
type Publisher interface {
	Publish(ctx context.Context, ev schema.JobEvent) error
}

// Options configures the orchestrator.
type Options struct {
	BaseDir              string
	SegmentDuration      time.Duration
	Language             string
	MaxFailures          int // 0 = unlimited
	CleanupIntermediates bool
}

// Outcome describes how an invocation ended without error.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeSuspended        Outcome = "suspended"
	OutcomeAlreadyCompleted Outcome = "already_completed"
)

// Result summarizes one invocation.
type Result struct {
	Outcome    Outcome
	Stage      ledger.Stage
	Completed  int
	Total      int
	OutputPath string
}

// Service drives one job through decode → segment → transcribe → assemble.
type Service struct {
	opts        Options
	decoder     Decoder
	segmenter   Segmenter
	transcriber Transcriber
	publishers  []Publisher
}

// New creates the orchestrator.
func New(opts Options, decoder Decoder, segmenter Segmenter, transcriber Transcriber, publishers ...Publisher) *Service {
	return &Service{
		opts:        opts,
		decoder:     decoder,
		segmenter:   segmenter,
		transcriber: transcriber,
		publishers:  publishers,
	}
}

// stepTimer tracks timing for a processing step.
type stepTimer struct {
	name  string
	start time.Time
}

func startStep(name string) *stepTimer {
	return &stepTimer{name: name, start: time.Now()}
}

func (s *stepTimer) done() time.Duration {
	elapsed := time.Since(s.start)
	logger.Infof("   ⏱️  %s: %v", s.name, formatDuration(elapsed))
	return elapsed
}

// formatDuration formats duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// run is the state of one invocation.
type run struct {
	*Service
	guard      *session.Guard
	store      *ledger.Store
	job        *ledger.Job
	name       string
	outputPath string
}

// Run performs as much of the job as the session budget allows. It returns an
// error only for recorded stage failures, the retry limit, and I/O problems with
// the ledger itself; running out of budget is OutcomeSuspended.
func (s *Service) Run(ctx context.Context, guard *session.Guard, inputPath, outputPath string) (Result, error) {
	inputPath, err := filepath.Abs(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("resolve input: %w", err)
	}
	outputPath, err = filepath.Abs(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("resolve output: %w", err)
	}

	layout := ledger.NewLayout(s.opts.BaseDir, inputPath)
	store := ledger.NewStore(layout.LedgerPath)

	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("🎬 Job: %s (session %s)", filepath.Base(inputPath), guard.ID())
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	// A retired ledger next to an existing output is a finished job, not a new one.
	if !store.Exists() && fileops.Exists(outputPath) {
		logger.Infof("✅ Already transcribed: %s", outputPath)
		return Result{Outcome: OutcomeAlreadyCompleted, Stage: ledger.StageCompleted, OutputPath: outputPath}, nil
	}

	if err := fileops.EnsureDir(layout.WorkDir); err != nil {
		return Result{}, fmt.Errorf("create job dir: %w", err)
	}

	job, err := s.loadJob(store, layout, inputPath, guard)
	if err != nil {
		return Result{}, err
	}

	r := &run{
		Service:    s,
		guard:      guard,
		store:      store,
		job:        job,
		name:       filepath.Base(layout.WorkDir),
		outputPath: outputPath,
	}
	return r.execute(ctx)
}

// loadJob returns the persisted job, or a fresh one when there is none to trust.
func (s *Service) loadJob(store *ledger.Store, layout ledger.Layout, inputPath string, guard *session.Guard) (*ledger.Job, error) {
	job, err := store.Load()
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		logger.Infof("🆕 New job, ledger: %s", store.Path())
		job = ledger.NewJob(layout, inputPath, time.Now())
	case errors.Is(err, ledger.ErrCorrupt):
		logger.Warnf("⚠️ %v, starting this job over", err)
		job = ledger.NewJob(layout, inputPath, time.Now())
	case err != nil:
		return nil, err
	default:
		if job.OriginalInputPath != inputPath {
			logger.Warnf("⚠️ Job directory belonged to %s, starting over for %s", job.OriginalInputPath, inputPath)
			if err := purgeArtifacts(job); err != nil {
				return nil, fmt.Errorf("purge stale artifacts: %w", err)
			}
			job = ledger.NewJob(layout, inputPath, time.Now())
			break
		}
		logger.Infof("📂 Resuming: stage=%s segments=%d/%d", job.Stage, job.CompletedSegmentCount, job.TotalSegmentCount)
		job.ApplyLayout(layout)
	}

	if job.Stage == ledger.StageFailed && s.opts.MaxFailures > 0 && job.ConsecutiveFailures >= s.opts.MaxFailures {
		return nil, fmt.Errorf("%w: %d failures, last at %s: %s (remove %s to retry)",
			ErrRetryLimit, job.ConsecutiveFailures, job.FailedStep, job.FailureReason, store.Path())
	}

	job.LastSessionID = guard.ID()
	return job, nil
}

func (r *run) execute(ctx context.Context) (Result, error) {
	snap, err := ledger.Scan(r.job)
	if err != nil {
		return Result{}, err
	}
	repaired, notes := ledger.Reconcile(*r.job, snap)
	for _, n := range notes {
		logger.Warnf("🩹 %s", n)
	}
	*r.job = repaired

	for _, dir := range []string{r.job.SegmentsDirectory, r.job.SegmentTextsDirectory} {
		if err := fileops.EnsureDir(dir); err != nil {
			return Result{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := r.save(); err != nil {
		return Result{}, err
	}

	if r.job.Stage == ledger.StageCreated {
		if r.interrupted(ctx, "decode") {
			return r.suspend(ctx)
		}
		logger.Infof("🎧 Step 1: Decoding audio...")
		t := startStep("Decode")
		if err := r.decoder.Decode(ctx, r.job.OriginalInputPath, r.job.IntermediateAudioPath); err != nil {
			if ctx.Err() != nil {
				return r.suspend(ctx)
			}
			return r.fail(ctx, ledger.StepDecode, -1, err)
		}
		t.done()
		if err := r.advance(ctx, ledger.StageDecoded); err != nil {
			return Result{}, err
		}
	}

	if r.job.Stage == ledger.StageDecoded {
		if r.interrupted(ctx, "segment") {
			return r.suspend(ctx)
		}
		logger.Infof("✂️ Step 2: Segmenting audio...")
		t := startStep("Segment")

		// New boundaries invalidate every transcript written for the old ones.
		removed, err := fileops.ClearDir(r.job.SegmentTextsDirectory)
		if err != nil {
			return Result{}, fmt.Errorf("clear transcripts: %w", err)
		}
		if removed > 0 {
			logger.Infof("🧹 Removed %d stale transcript(s)", removed)
		}

		paths, err := r.segmenter.Segment(ctx, r.job.IntermediateAudioPath, r.job.SegmentsDirectory, r.opts.SegmentDuration)
		if err != nil {
			if ctx.Err() != nil {
				return r.suspend(ctx)
			}
			return r.fail(ctx, ledger.StepSegment, -1, err)
		}
		if len(paths) == 0 {
			return r.fail(ctx, ledger.StepSegment, -1, errors.New("no segments produced"))
		}
		t.done()

		r.job.SetSegments(paths)
		if err := r.advance(ctx, ledger.StageSegmented); err != nil {
			return Result{}, err
		}
	}

	if r.job.Stage == ledger.StageSegmented || r.job.Stage == ledger.StageTranscribing {
		suspended, res, err := r.transcribeAll(ctx)
		if err != nil || suspended {
			return res, err
		}
	}

	if r.job.Stage != ledger.StageCompleted {
		return Result{}, fmt.Errorf("unexpected stage %q", r.job.Stage)
	}
	return r.finish(ctx)
}

// transcribeAll resumes at the completed counter and persists after every segment.
func (r *run) transcribeAll(ctx context.Context) (bool, Result, error) {
	total := r.job.TotalSegmentCount
	logger.Infof("🎤 Step 3: Transcribing segments %d..%d of %d", r.job.CompletedSegmentCount+1, total, total)
	t := startStep("Transcription")

	if r.job.CompletedSegmentCount < total && r.job.Stage != ledger.StageTranscribing {
		if err := r.advance(ctx, ledger.StageTranscribing); err != nil {
			return false, Result{}, err
		}
	}

	loaded := false
	for i := r.job.CompletedSegmentCount; i < total; i++ {
		label := fmt.Sprintf("segment %d/%d", i+1, total)
		if r.interrupted(ctx, label) {
			res, err := r.suspend(ctx)
			return true, res, err
		}

		textPath := r.job.TranscriptPath(i)
		if fileops.Exists(textPath) {
			logger.Infof("⏭️ %s already transcribed, skipping", label)
		} else {
			if !loaded {
				if err := r.transcriber.Load(ctx); err != nil {
					res, ferr := r.fail(ctx, ledger.StepModelLoad, -1, err)
					return true, res, ferr
				}
				loaded = true
			}

			text, err := r.transcriber.Transcribe(ctx, r.job.SegmentPaths[i], r.opts.Language)
			if err != nil {
				if ctx.Err() != nil {
					res, serr := r.suspend(ctx)
					return true, res, serr
				}
				res, ferr := r.fail(ctx, ledger.StepTranscribe, i, err)
				return true, res, ferr
			}
			if err := fileops.WriteFileAtomic(textPath, []byte(text), 0o644); err != nil {
				res, ferr := r.fail(ctx, ledger.StepTranscribe, i, fmt.Errorf("write transcript: %w", err))
				return true, res, ferr
			}
			logger.Infof("📝 %s saved: %s", label, filepath.Base(textPath))
		}

		r.job.CompletedSegmentCount = i + 1
		r.job.ClearFailure()
		if err := r.save(); err != nil {
			return true, Result{}, err
		}
		r.emit(ctx, schema.EventSegmentDone, "")
	}

	t.done()
	logger.Infof("✅ All %d segments transcribed", total)
	if err := r.advance(ctx, ledger.StageCompleted); err != nil {
		return true, Result{}, err
	}
	return false, Result{}, nil
}

// finish assembles the output, then retires the ledger.
func (r *run) finish(ctx context.Context) (Result, error) {
	logger.Infof("📄 Step 4: Assembling %s", r.outputPath)

	text, err := Assemble(r.job)
	if err != nil {
		return Result{}, err
	}
	if err := fileops.WriteFileAtomic(r.outputPath, []byte(text), 0o644); err != nil {
		return Result{}, fmt.Errorf("write output: %w", err)
	}

	if err := r.store.Remove(); err != nil {
		return Result{}, fmt.Errorf("retire ledger: %w", err)
	}
	logger.Infof("🗑️ Ledger retired: %s", r.store.Path())

	if r.opts.CleanupIntermediates {
		if err := purgeArtifacts(r.job); err != nil {
			logger.Warnf("⚠️ Cleanup incomplete: %v", err)
		} else if removed, _ := fileops.RemoveIfEmpty(r.job.WorkingDirectory); removed {
			logger.Infof("🧹 Removed job directory %s", r.job.WorkingDirectory)
		}
	}

	r.emit(ctx, schema.EventCompleted, "")

	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("✅ Transcription complete: %s (%d segments)", r.outputPath, r.job.TotalSegmentCount)
	logger.Infof("⏱️  Session time: %s", formatDuration(r.guard.Elapsed()))
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	return r.result(OutcomeCompleted), nil
}

// Assemble joins the segment transcripts in index order. A missing transcript is
// logged and left out.
func Assemble(job *ledger.Job) (string, error) {
	parts := make([]string, 0, job.TotalSegmentCount)
	for i := 0; i < job.TotalSegmentCount; i++ {
		path := job.TranscriptPath(i)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warnf("⚠️ Transcript missing during assembly: %s", path)
				continue
			}
			return "", fmt.Errorf("read transcript %d: %w", i, err)
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, Separator), nil
}

// interrupted reports whether new work must not start: budget spent or shutdown requested.
func (r *run) interrupted(ctx context.Context, next string) bool {
	if ctx.Err() != nil {
		logger.Warnf("🛑 Shutdown requested before %s", next)
		return true
	}
	if r.guard.Exhausted() {
		logger.Warnf("⏰ Session budget of %s reached before %s", formatDuration(r.guard.Budget()), next)
		return true
	}
	return false
}

// suspend checkpoints the ledger and ends the invocation normally.
func (r *run) suspend(ctx context.Context) (Result, error) {
	if err := r.save(); err != nil {
		return Result{}, err
	}
	r.emit(context.WithoutCancel(ctx), schema.EventSuspended, "")

	logger.Infof("💾 Progress saved: stage=%s segments=%d/%d. Run the same command again to resume.",
		r.job.Stage, r.job.CompletedSegmentCount, r.job.TotalSegmentCount)
	logger.Infof("⏱️  Session time: %s", formatDuration(r.guard.Elapsed()))
	return r.result(OutcomeSuspended), nil
}

// fail records the failure durably, then reports it.
func (r *run) fail(ctx context.Context, step ledger.Step, index int, cause error) (Result, error) {
	r.job.Fail(step, index, cause)
	fullErr := stepError(step, index, cause)
	logger.Errorf("❌ %v", fullErr)

	if err := r.save(); err != nil {
		logger.Errorf("❌ Could not record failure: %v", err)
	}
	r.emit(ctx, schema.EventFailed, fullErr.Error())

	logger.Infof("🔁 Ledger kept at %s for inspection; re-run to retry (%d consecutive failure(s))",
		r.store.Path(), r.job.ConsecutiveFailures)
	return r.result(""), fullErr
}

// advance moves to the next stage after a successful step and persists it.
func (r *run) advance(ctx context.Context, stage ledger.Stage) error {
	r.job.Stage = stage
	r.job.ClearFailure()
	if err := r.save(); err != nil {
		return err
	}
	logger.Debugf("📌 Stage → %s", stage)
	r.emit(ctx, schema.EventStageChanged, "")
	return nil
}

func (r *run) save() error {
	if err := r.store.Save(r.job); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (r *run) result(outcome Outcome) Result {
	return Result{
		Outcome:    outcome,
		Stage:      r.job.Stage,
		Completed:  r.job.CompletedSegmentCount,
		Total:      r.job.TotalSegmentCount,
		OutputPath: r.outputPath,
	}
}

func (r *run) emit(ctx context.Context, typ schema.EventType, errMsg string) {
	if len(r.publishers) == 0 {
		return
	}
	ev := schema.JobEvent{
		Type:       typ,
		Job:        r.name,
		InputPath:  r.job.OriginalInputPath,
		OutputPath: r.outputPath,
		Stage:      string(r.job.Stage),
		Completed:  r.job.CompletedSegmentCount,
		Total:      r.job.TotalSegmentCount,
		SessionID:  r.guard.ID(),
		Error:      errMsg,
		HappenedAt: time.Now().Unix(),
	}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			logger.Warnf("⚠️ Failed to publish %s event: %v", typ, err)
		}
	}
}

// purgeArtifacts removes the decoded audio, segments and transcripts of a job.
func purgeArtifacts(job *ledger.Job) error {
	if err := fileops.Remove(job.IntermediateAudioPath); err != nil {
		return err
	}
	for _, dir := range []string{job.SegmentsDirectory, job.SegmentTextsDirectory} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}
