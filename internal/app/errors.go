package app

import "errors"

// Innermost returns the deepest cause of err. For joined errors the first
// branch is followed.
func Innermost(err error) error {
	for err != nil {
		var next error
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		case interface{ Unwrap() []error }:
			if errs := e.Unwrap(); len(errs) > 0 {
				next = errs[0]
			}
		}
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

// splitDeadline separates a deadline error from the task failure it may have
// been joined with by a draining run.
func splitDeadline(err error, deadline error) (timedOut bool, rest error) {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		if errors.Is(err, deadline) {
			return true, nil
		}
		return false, err
	}

	var others []error
	for _, e := range joined.Unwrap() {
		if errors.Is(e, deadline) {
			timedOut = true
			continue
		}
		others = append(others, e)
	}
	return timedOut, errors.Join(others...)
}
