package services

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned by stage constructors when a setting
// would make the whole pass misbehave. It is fatal; no partial work is
// attempted.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrNoContent is returned when bundling a document that produced no pages.
// It is distinct from an empty bundle: the document is marked failed instead
// of silently indexing nothing.
var ErrNoContent = errors.New("document produced no page content")

// PageCountMismatchError reports an analysis result whose page segments do
// not match the split unit's page count. The unit is failed, never silently
// truncated.
type PageCountMismatchError struct {
	UnitSeq  int
	Expected int
	Actual   int
}

func (e *PageCountMismatchError) Error() string {
	return fmt.Sprintf("unit %d: analysis result has %d page segments, expected %d", e.UnitSeq, e.Actual, e.Expected)
}
