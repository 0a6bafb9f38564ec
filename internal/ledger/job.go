package ledger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fusionn-scribe/internal/fileops"
)

// CurrentVersion is the ledger format written by this build.
const CurrentVersion = 1

// Stage represents how far the pipeline has progressed for a job.
type Stage string

const (
	StageCreated      Stage = "created"
	StageDecoded      Stage = "decoded"
	StageSegmented    Stage = "segmented"
	StageTranscribing Stage = "transcribing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

var stageRank = map[Stage]int{
	StageCreated:      0,
	StageDecoded:      1,
	StageSegmented:    2,
	StageTranscribing: 3,
	StageCompleted:    4,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok || s == StageFailed
}

// AtLeast reports whether s has reached other. Failed is below every stage.
func (s Stage) AtLeast(other Stage) bool {
	r, ok := stageRank[s]
	if !ok {
		return false
	}
	return r >= stageRank[other]
}

// Step names the operation that failed.
type Step string

const (
	StepDecode     Step = "decode"
	StepSegment    Step = "segment"
	StepModelLoad  Step = "model_load"
	StepTranscribe Step = "transcribe"
)

// resumeStage is the furthest stage a failed step can resume from.
func (s Step) resumeStage() Stage {
	switch s {
	case StepSegment:
		return StageDecoded
	case StepModelLoad, StepTranscribe:
		return StageTranscribing
	default:
		return StageCreated
	}
}

// Layout is the deterministic on-disk location of one job's artifacts.
type Layout struct {
	WorkDir           string
	LedgerPath        string
	IntermediateAudio string
	SegmentsDir       string
	TextsDir          string
}

// NewLayout derives the job directory from the input's base filename.
func NewLayout(baseDir, inputPath string) Layout {
	name := fileops.BaseName(inputPath)
	workDir := filepath.Join(baseDir, name)
	return Layout{
		WorkDir:           workDir,
		LedgerPath:        filepath.Join(workDir, "progress.json"),
		IntermediateAudio: filepath.Join(workDir, name+"_converted.wav"),
		SegmentsDir:       filepath.Join(workDir, "audio_chunks"),
		TextsDir:          filepath.Join(workDir, "transcribed_chunks_text"),
	}
}

// Job is the durable progress record for one input file.
type Job struct {
	Version               int    `json:"version"`
	OriginalInputPath     string `json:"original_input_path"`
	WorkingDirectory      string `json:"working_directory"`
	IntermediateAudioPath string `json:"intermediate_audio_path"`
	SegmentsDirectory     string `json:"segments_directory"`
	SegmentTextsDirectory string `json:"segment_texts_directory"`

	SegmentPaths          []string `json:"segment_paths"`
	TotalSegmentCount     int      `json:"total_segment_count"`
	CompletedSegmentCount int      `json:"completed_segment_count"`

	Stage Stage `json:"stage"`

	// Set while Stage is failed; kept afterwards for the retry gate.
	FailedStep          Step   `json:"failed_step,omitempty"`
	FailureReason       string `json:"failure_reason,omitempty"`
	FailedSegmentIndex  *int   `json:"failed_segment_index,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	LastSessionID string    `json:"last_session_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewJob creates a fresh record in the created stage.
func NewJob(layout Layout, inputPath string, now time.Time) *Job {
	j := &Job{
		Version:           CurrentVersion,
		OriginalInputPath: inputPath,
		Stage:             StageCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	j.ApplyLayout(layout)
	return j
}

// ApplyLayout points the directory fields at layout.
func (j *Job) ApplyLayout(layout Layout) {
	j.WorkingDirectory = layout.WorkDir
	j.IntermediateAudioPath = layout.IntermediateAudio
	j.SegmentsDirectory = layout.SegmentsDir
	j.SegmentTextsDirectory = layout.TextsDir
}

// TranscriptPath is where the transcript of segment i lives.
func (j *Job) TranscriptPath(i int) string {
	return filepath.Join(j.SegmentTextsDirectory, TranscriptFileName(i))
}

// TranscriptFileName is the fixed-width name of segment i's transcript.
func TranscriptFileName(i int) string {
	return fmt.Sprintf("chunk_%04d_transcription.txt", i)
}

// SetSegments records a freshly produced segment list and restarts transcription.
func (j *Job) SetSegments(paths []string) {
	j.SegmentPaths = append([]string(nil), paths...)
	j.TotalSegmentCount = len(paths)
	j.CompletedSegmentCount = 0
	j.Stage = StageSegmented
}

func (j *Job) resetSegments() {
	j.SegmentPaths = nil
	j.TotalSegmentCount = 0
	j.CompletedSegmentCount = 0
}

// Fail moves the job to the failed stage. index is the segment for transcribe failures, -1 otherwise.
func (j *Job) Fail(step Step, index int, err error) {
	j.Stage = StageFailed
	j.FailedStep = step
	j.FailureReason = err.Error()
	j.FailedSegmentIndex = nil
	if index >= 0 {
		idx := index
		j.FailedSegmentIndex = &idx
	}
	j.ConsecutiveFailures++
}

// ClearFailure forgets a previous failure once the job makes progress again.
func (j *Job) ClearFailure() {
	j.FailedStep = ""
	j.FailureReason = ""
	j.FailedSegmentIndex = nil
	j.ConsecutiveFailures = 0
}

// Remaining returns how many segments still need a transcript.
func (j *Job) Remaining() int {
	return j.TotalSegmentCount - j.CompletedSegmentCount
}
