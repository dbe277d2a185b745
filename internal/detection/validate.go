package detection

import (
	"strings"

	"github.com/madello/paarvai/internal/errors"
)

// Validate checks that r satisfies the record invariants: a non-empty id,
// closed enum values, a confidence within [0,100] and a real timestamp.
// All problems are reported together.
func Validate(r *Record) error {
	var problems []string

	if r.ID == "" {
		problems = append(problems, "id is empty")
	}
	if r.Classification != Stranger && r.Classification != Valid {
		problems = append(problems, "classification must be Stranger or Valid")
	}
	if r.Priority.Rank() == 0 {
		problems = append(problems, "priority must be High, Medium or Low")
	}
	// NaN fails both comparisons
	if !(r.Confidence >= MinConfidence && r.Confidence <= MaxConfidence) {
		problems = append(problems, "confidence must be within [0,100]")
	}
	if r.ObservedAt.IsZero() {
		problems = append(problems, "observedAt is not set")
	}

	if len(problems) == 0 {
		return nil
	}

	return errors.Newf("invalid record: %s", strings.Join(problems, "; ")).
		Component("detection").
		Category(errors.CategoryValidation).
		Context("id", r.ID).
		Build()
}
