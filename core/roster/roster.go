// Package roster describes the enrollment roster the billing core reads from.
// The roster itself is owned by the school portal; implementations live in storage/roster.
package roster

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"
)

// MaxIDLength is the longest student id the billing tables store.
const MaxIDLength = 64

var (
	// ErrInvalidID is returned for student ids longer than MaxIDLength.
	ErrInvalidID = errors.New(fmt.Sprintf("student id must be at most %d characters", MaxIDLength))
	// ErrUnavailable is returned when the roster store could not be read.
	ErrUnavailable = errors.New("roster unavailable")
	// ErrStudentNotFound is returned by Provider.Student for unknown ids.
	ErrStudentNotFound = errors.New("student not found in roster")
)

type (
	Student struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
	}

	// Provider gives read access to the currently enrolled students.
	Provider interface {
		// ActiveStudents returns the ids of every active student.
		ActiveStudents(ctx context.Context) ([]string, error)
		// Student returns a single student's contact details.
		Student(ctx context.Context, id string) (Student, error)
	}
)

// Address returns the student's email address, if the roster knows one.
func (s Student) Address() (mail.Address, bool) {
	if s.Email == "" {
		return mail.Address{}, false
	}
	return mail.Address{Name: s.Name, Address: s.Email}, true
}

// Unavailable wraps a roster store failure so that callers can recognise it with errors.Cause.
func Unavailable(err error) error {
	return &unavailableError{err}
}

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return ErrUnavailable.Error() + ": " + e.err.Error() }
func (e *unavailableError) Cause() error  { return ErrUnavailable }

// Dedupe returns ids without blanks nor duplicates, keeping first-seen order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ValidID reports whether id can be stored.
func ValidID(id string) bool {
	return id != "" && len(id) <= MaxIDLength
}

// CheckIDs fails on the first id that cannot be stored.
func CheckIDs(ids []string) error {
	for _, id := range ids {
		if !ValidID(id) {
			return errors.Wrapf(ErrInvalidID, "roster returned %q", id)
		}
	}
	return nil
}
