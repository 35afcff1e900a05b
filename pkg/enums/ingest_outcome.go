package enums

// IngestOutcome is the terminal classification of one pipeline run.
type IngestOutcome string

const (
	IngestOutcomeCreated          IngestOutcome = "created"
	IngestOutcomeDuplicateSkipped IngestOutcome = "duplicate_skipped"
	IngestOutcomeConflictRaised   IngestOutcome = "conflict_raised"
	IngestOutcomeFailed           IngestOutcome = "failed"
)

// String implements fmt.Stringer.
func (o IngestOutcome) String() string {
	return string(o)
}
