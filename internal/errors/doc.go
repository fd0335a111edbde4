// Package errors provides typed error handling for toolhost operations.
//
// Go-level failures (configuration, spawning, lookups) carry a string code.
// Failures of a request/response round trip with a tool server are not Go
// errors at all: they travel as data in rpc.Response.Error with the numeric
// codes defined there.
//
// Example usage:
//
//	// Creating errors
//	err := errors.ServerNotFound("fs")
//	err := errors.ExecutableNotFound("npx", exec.ErrNotFound)
//
//	// Checking error codes
//	if errors.Is(err, errors.CodeServerNotFound) {
//	    // handle unknown server
//	}
//
//	// Extracting codes
//	code := errors.Code(err)
//	if code == errors.CodeSpawnFailed {
//	    // report the spawn failure
//	}
//
//	// Stdlib compatibility (import the standard package under another name)
//	var hostErr *errors.Error
//	if stderrors.As(err, &hostErr) {
//	    fmt.Println(hostErr.Code, hostErr.Message)
//	}
package errors
