package errors

import stderrors "errors"

// Re-exports so callers importing this package do not also need the standard errors package.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	New    = stderrors.New
	Join   = stderrors.Join
	Unwrap = stderrors.Unwrap
)
