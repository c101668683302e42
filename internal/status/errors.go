package status

import (
	"errors"
	"fmt"
)

var ErrInvalidRecord = errors.New("invalid_record")

// InvalidRecordError reports persisted data that cannot be evaluated.
type InvalidRecordError struct {
	RecordID string
	Field    string
	Value    string
	Reason   string
}

func (e *InvalidRecordError) Error() string {
	msg := fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	if e.RecordID != "" {
		msg = e.RecordID + ": " + msg
	}
	return msg
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// WithRecord returns a copy of err tagged with a record id when err is an
// InvalidRecordError.
func WithRecord(err error, id string) error {
	var ire *InvalidRecordError
	if errors.As(err, &ire) {
		cp := *ire
		cp.RecordID = id
		return &cp
	}
	return err
}
