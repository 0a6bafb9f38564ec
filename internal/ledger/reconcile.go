// Package ledger records pipeline progress for one transcription job and
// reconciles that record against what is actually on disk.
//
// The filesystem is the authority: the ledger caches which artifacts exist so a
// later invocation knows where to resume, and Reconcile discards any part of the
// cache the directory listing no longer supports.
package ledger

import (
	"fmt"

	"github.com/fusionn-scribe/internal/fileops"
)

// Snapshot is the part of a job directory that reconciliation looks at.
type Snapshot struct {
	IntermediateExists bool
	SegmentFiles       []string // full paths present in the segments directory
	TranscriptFiles    []string // full paths present in the transcripts directory
}

// Scan lists the job's directories. Missing directories read as empty.
func Scan(job *Job) (Snapshot, error) {
	segments, err := fileops.ListFiles(job.SegmentsDirectory)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list segments: %w", err)
	}
	texts, err := fileops.ListFiles(job.SegmentTextsDirectory)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list transcripts: %w", err)
	}
	return Snapshot{
		IntermediateExists: fileops.Exists(job.IntermediateAudioPath),
		SegmentFiles:       segments,
		TranscriptFiles:    texts,
	}, nil
}

// Reconcile returns a copy of job repaired against snap, plus a note per repair.
//
// Precedence:
//   - a failed job resumes from the stage its failed step allows;
//   - no intermediate audio means created, whatever was recorded;
//   - intermediate audio on a created job means decoded;
//   - a segment list that is empty, differs in length from the directory, or names
//     a missing file is dropped and the job falls back to decoded;
//   - the completed counter is lowered to the first segment without a transcript,
//     and a completed job with missing transcripts goes back to transcribing.
func Reconcile(job Job, snap Snapshot) (Job, []string) {
	var notes []string
	out := job
	out.SegmentPaths = append([]string(nil), job.SegmentPaths...)

	if out.Stage == StageFailed {
		resume := out.FailedStep.resumeStage()
		notes = append(notes, fmt.Sprintf("previous run failed at %s (%s), retrying from %s",
			out.FailedStep, out.FailureReason, resume))
		out.Stage = resume
	}

	if !snap.IntermediateExists {
		if out.Stage != StageCreated {
			notes = append(notes, fmt.Sprintf("intermediate audio missing, %s → %s", out.Stage, StageCreated))
		}
		out.Stage = StageCreated
		out.resetSegments()
		return out, notes
	}

	if out.Stage == StageCreated {
		notes = append(notes, "intermediate audio already on disk, skipping decode")
		out.Stage = StageDecoded
	}

	if out.Stage == StageDecoded {
		out.resetSegments()
		return out, notes
	}

	if reason := segmentMismatch(out.SegmentPaths, snap.SegmentFiles); reason != "" {
		notes = append(notes, fmt.Sprintf("%s, %s → %s", reason, out.Stage, StageDecoded))
		out.Stage = StageDecoded
		out.resetSegments()
		return out, notes
	}

	if out.TotalSegmentCount != len(out.SegmentPaths) {
		notes = append(notes, fmt.Sprintf("total segment count %d corrected to %d", out.TotalSegmentCount, len(out.SegmentPaths)))
		out.TotalSegmentCount = len(out.SegmentPaths)
	}
	if out.CompletedSegmentCount < 0 {
		out.CompletedSegmentCount = 0
	}
	if out.CompletedSegmentCount > out.TotalSegmentCount {
		notes = append(notes, fmt.Sprintf("completed count %d clamped to %d", out.CompletedSegmentCount, out.TotalSegmentCount))
		out.CompletedSegmentCount = out.TotalSegmentCount
	}

	texts := toSet(snap.TranscriptFiles)
	done := 0
	for done < out.TotalSegmentCount && texts[out.TranscriptPath(done)] {
		done++
	}
	if done < out.CompletedSegmentCount {
		notes = append(notes, fmt.Sprintf("transcript %d missing, completed count %d → %d", done, out.CompletedSegmentCount, done))
		out.CompletedSegmentCount = done
	}
	if out.Stage == StageCompleted && out.CompletedSegmentCount < out.TotalSegmentCount {
		notes = append(notes, fmt.Sprintf("%s → %s", StageCompleted, StageTranscribing))
		out.Stage = StageTranscribing
	}

	return out, notes
}

// segmentMismatch explains why the recorded segment list cannot be trusted, or returns "".
func segmentMismatch(recorded, onDisk []string) string {
	if len(recorded) == 0 {
		return "segment list empty"
	}
	if len(recorded) != len(onDisk) {
		return fmt.Sprintf("segment list has %d entries but %d files on disk", len(recorded), len(onDisk))
	}
	present := toSet(onDisk)
	for _, p := range recorded {
		if !present[p] {
			return fmt.Sprintf("segment %s missing", p)
		}
	}
	return ""
}

func toSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}
