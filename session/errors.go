package session

import "github.com/krystophny/liric/internal/errs"

func sessionStateErr(format string, args ...any) *errs.Error {
	return errs.New(errs.State, format, args...)
}
