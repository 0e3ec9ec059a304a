package convert

import (
	"fmt"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/google/uuid"
)

// Stage is the position of a source record in the per-page pipeline.
type Stage string

const (
	StageSelected         Stage = "selected"
	StageTargetCreated    Stage = "target-created"
	StageCorrelated       Stage = "correlated"
	StageLinked           Stage = "linked"
	StageUnlinked         Stage = "unlinked"
	StageDeleted          Stage = "deleted"
	StageRetained         Stage = "retained"
	StageFailed           Stage = "failed"
	StageAlreadyConverted Stage = "already-converted"
)

// Step names the bulk call a failure happened in.
type Step string

const (
	StepLookupConverted Step = "lookup-converted"
	StepCreate          Step = "create"
	StepQueryNotes      Step = "query-notes"
	StepQueryVersions   Step = "query-versions"
	StepUpdate          Step = "update"
	StepLink            Step = "link"
	StepDelete          Step = "delete"
)

// RecordError is a per-record failure reported by the store for one bulk call.
type RecordError struct {
	SourceID uuid.UUID
	Step     Step
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s failed at %s: %v", e.SourceID, e.Step, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// CorrelationError means a re-query could not be matched to the records the
// page created. The page is aborted instead of guessing a mapping.
type CorrelationError struct {
	Step     Step
	Expected int
	Actual   int
	// Unknown is set when the store returned an id the page never created.
	Unknown *uuid.UUID
}

func (e *CorrelationError) Error() string {
	if e.Unknown != nil {
		return fmt.Sprintf("correlation failed at %s: unexpected id %s", e.Step, e.Unknown)
	}
	return fmt.Sprintf("correlation failed at %s: expected %d entities, got %d", e.Step, e.Expected, e.Actual)
}

// RecordOutcome tracks one source record through a page.
type RecordOutcome struct {
	SourceID   uuid.UUID
	ParentID   uuid.UUID
	VersionID  uuid.UUID
	DocumentID uuid.UUID
	Stage      Stage
	Linked     bool
	Deleted    bool
	// Err is the last per-record error. A record can keep a committed
	// conversion and still carry an error from the delete step.
	Err        error
	FailedStep Step
}

// Converted reports whether the record went through the whole pipeline in
// this page.
func (o RecordOutcome) Converted() bool {
	switch o.Stage {
	case StageLinked, StageUnlinked, StageDeleted, StageRetained:
		return true
	}
	return false
}

// PageReport is the result of one engine invocation.
type PageReport struct {
	Kind    model.SourceKind
	Records []RecordOutcome

	index map[uuid.UUID]int
}

func newPageReport(kind model.SourceKind, page []model.SourceRecord) *PageReport {
	r := &PageReport{
		Kind:    kind,
		Records: make([]RecordOutcome, len(page)),
		index:   make(map[uuid.UUID]int, len(page)),
	}
	for i, src := range page {
		r.Records[i] = RecordOutcome{SourceID: src.ID, ParentID: src.ParentID, Stage: StageSelected}
		r.index[src.ID] = i
	}
	return r
}

func (r *PageReport) outcome(sourceID uuid.UUID) *RecordOutcome {
	i, ok := r.index[sourceID]
	if !ok {
		return nil
	}
	return &r.Records[i]
}

func (r *PageReport) advance(sourceID uuid.UUID, stage Stage) {
	if o := r.outcome(sourceID); o != nil && o.Stage != StageFailed {
		o.Stage = stage
	}
}

func (r *PageReport) fail(sourceID uuid.UUID, step Step, err error) {
	if o := r.outcome(sourceID); o != nil {
		o.Stage = StageFailed
		o.FailedStep = step
		o.Err = &RecordError{SourceID: sourceID, Step: step, Err: err}
	}
}

// Converted counts records whose conversion committed in this page.
func (r *PageReport) Converted() int {
	n := 0
	for _, o := range r.Records {
		if o.Converted() {
			n++
		}
	}
	return n
}

// Linked counts records shared with their parent.
func (r *PageReport) Linked() int {
	n := 0
	for _, o := range r.Records {
		if o.Linked {
			n++
		}
	}
	return n
}

// Deleted counts sources removed in this page.
func (r *PageReport) Deleted() int {
	n := 0
	for _, o := range r.Records {
		if o.Deleted {
			n++
		}
	}
	return n
}

// Skipped counts sources that were already converted by an earlier run.
func (r *PageReport) Skipped() int {
	n := 0
	for _, o := range r.Records {
		if o.Stage == StageAlreadyConverted {
			n++
		}
	}
	return n
}

// Failures returns the per-record errors of the page.
func (r *PageReport) Failures() []error {
	var errs []error
	for _, o := range r.Records {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Outcome returns the outcome for sourceID.
func (r *PageReport) Outcome(sourceID uuid.UUID) (RecordOutcome, bool) {
	o := r.outcome(sourceID)
	if o == nil {
		return RecordOutcome{}, false
	}
	return *o, true
}
