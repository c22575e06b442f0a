package schedule

import (
	"fmt"
	"time"
)

// Entry is one existing task as seen by the conflict scan: its identity
// plus its raw temporal footprint.
type Entry struct {
	ID    string
	Title string
	Slot  Slot
}

// Match records one conflicting task and a human-readable reason.
type Match struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Report is the outcome of comparing a candidate footprint against a set
// of existing tasks. Conflicts preserve the input order of the scan.
type Report struct {
	IsConflict bool    `json:"isConflict"`
	Conflicts  []Match `json:"conflicts,omitempty"`
}

// Detector checks candidate footprints against existing tasks. All
// date-times are interpreted in a single fixed location.
type Detector struct {
	loc *time.Location
}

// NewDetector returns a Detector operating in loc. A nil loc means UTC.
func NewDetector(loc *time.Location) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{loc: loc}
}

// Detect scans existing tasks in order and reports every one whose
// footprint overlaps the candidate.
//
// The candidate must parse into a complete interval; a candidate with
// missing fields is a validation error, never a silent "no conflict".
// Existing entries that fail to parse are skipped: a half-filled task
// still being gathered through dialog can neither conflict nor crash
// the scan.
func (d *Detector) Detect(candidate Slot, existing []Entry) (Report, error) {
	candIv, err := candidate.Interval(d.loc)
	if err != nil {
		return Report{}, fmt.Errorf("candidate interval: %w", err)
	}

	var report Report
	for _, e := range existing {
		iv, err := e.Slot.Interval(d.loc)
		if err != nil {
			continue
		}
		if !Overlaps(candIv, iv) {
			continue
		}
		kind := "regular"
		if iv.Kind == DailyRecurring {
			kind = "daily"
		}
		report.Conflicts = append(report.Conflicts, Match{
			TaskID: e.ID,
			Reason: fmt.Sprintf("overlaps %s task %q (%s)", kind, e.Title, e.ID),
		})
	}
	report.IsConflict = len(report.Conflicts) > 0
	return report, nil
}
