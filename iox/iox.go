// Package iox holds small I/O helpers for cleanup paths.
package iox

import (
	"errors"
	"io"
)

// DiscardClose closes c and drops the error. For defers where a close
// failure changes nothing:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(server))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops the error.
func DiscardErr(fn func() error) { _ = fn() }

// CloseAll closes every non-nil closer in reverse order and joins the
// errors. Sessions use it to release publishers, recorders and
// connections opened in sequence.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
