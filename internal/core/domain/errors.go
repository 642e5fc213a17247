package domain

import (
	"errors"
	"fmt"
)

var (
	// Hard failures: the query must not proceed.
	ErrAccessDenied   = errors.New("access denied")
	ErrMalformedQuery = errors.New("malformed query")

	// Degradable failures: recovered inside the pipeline and logged,
	// never surfaced to the end user.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")
	ErrGenerationFailure    = errors.New("generation failed")
	ErrPlanningDegraded     = errors.New("planning degraded")
	ErrGroundingDegraded    = errors.New("grounding check degraded")

	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
