package cellsheet

import (
	"fmt"
	"strings"
)

// Error kinds surfaced as ErrorValue. The kind is what the grid shows
// in the cell; the detail goes to the tooltip.
const (
	KindRefSyntax     = "RefSyntaxError"
	KindCircularRef   = "CircularRefError"
	KindSpillConflict = "SpillConflictError"
	KindEval          = "EvalError"
	KindCancelled     = "Cancelled"
)

// RefSyntaxError reports a malformed cell label or range.
type RefSyntaxError struct {
	Label string
	Cause error
}

func (err *RefSyntaxError) Error() string {
	return fmt.Sprintf("bad cell reference %q: %s", err.Label, err.Cause)
}

func (err *RefSyntaxError) Unwrap() error { return err.Cause }

// CircularRefError reports a dependency edge whose insertion would
// close a cycle. Path runs from the first re-encountered cell back to
// itself in traversal order.
type CircularRefError struct {
	Path []Address
}

func (err *CircularRefError) Error() string {
	labels := make([]string, 0, len(err.Path))
	for _, a := range err.Path {
		labels = append(labels, a.Label())
	}
	return "circular reference: " + strings.Join(labels, " -> ")
}

// SpillConflictError reports a spill producer blocked by an occupied
// neighbor.
type SpillConflictError struct {
	Producer, Blocked Address
}

func (err *SpillConflictError) Error() string {
	return fmt.Sprintf("spill from %s blocked by non-empty cell %s", err.Producer.Label(), err.Blocked.Label())
}

func errValue(kind, format string, args ...any) ErrorValue {
	return ErrorValue{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func errValueFrom(err error) ErrorValue {
	switch e := err.(type) {
	case *RefSyntaxError:
		return ErrorValue{Kind: KindRefSyntax, Detail: e.Error()}
	case *CircularRefError:
		return ErrorValue{Kind: KindCircularRef, Detail: e.Error()}
	case *SpillConflictError:
		return ErrorValue{Kind: KindSpillConflict, Detail: e.Error()}
	default:
		return ErrorValue{Kind: KindEval, Detail: err.Error()}
	}
}
