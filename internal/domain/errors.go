package domain

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ValidationError reports a request rejected before any computation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// InsufficientHistoryError is returned when the requested range cannot
// cover the initial training window plus at least one evaluation day.
type InsufficientHistoryError struct {
	Start     time.Time
	End       time.Time
	Available int // trading days found in range
	Required  int // trading days needed for one evaluation step
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s..%s: %d trading days available, need more than %d",
		e.Start.Format(dateLayout), e.End.Format(dateLayout), e.Available, e.Required)
}

// DataIntegrityError reports market data that cannot be recovered from,
// such as a non-positive price or no valid price on the first day.
type DataIntegrityError struct {
	Symbol  string
	Date    time.Time
	Message string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s on %s: %s", e.Symbol, e.Date.Format(dateLayout), e.Message)
}

// FitError reports a model failure within a retraining window. The window
// is half-open: [WindowStart, WindowEnd).
type FitError struct {
	Model       ModelType
	WindowStart time.Time
	WindowEnd   time.Time
	Err         error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %s on window %s..%s: %v", e.Model,
		e.WindowStart.Format(dateLayout), e.WindowEnd.Format(dateLayout), e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }
