// Package nexuserr defines the typed error taxonomy the dispatch layer
// switches on to pick a JSON-RPC error code (spec.md §7).
package nexuserr

import "fmt"

// InvalidParamsError wraps a handler-level parameter validation failure.
type InvalidParamsError struct {
	Message string
}

func (e *InvalidParamsError) Error() string { return e.Message }

// NewInvalidParams builds an InvalidParamsError from a format string.
func NewInvalidParams(format string, args ...any) *InvalidParamsError {
	return &InvalidParamsError{Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError is raised when a requester is not permitted to act on
// a target agent (destroy, etc). Carries both IDs so the message can name
// them per §7's "include both the requester ID and the target ID".
type AuthorizationError struct {
	RequesterID string
	TargetID    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("requester %q is not authorized to act on agent %q", e.RequesterID, e.TargetID)
}

// PathSecurityError reports a path containment violation, naming both the
// offending path and the reference path it escaped.
type PathSecurityError struct {
	Path      string
	Reference string
	Reason    string
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("path %q %s (reference: %q)", e.Path, e.Reason, e.Reference)
}

// ValidationError is a generic parameter/shape validation failure distinct
// from InvalidParamsError when the caller wants to classify separately
// (e.g. config validation versus RPC parameter validation).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InsecureTokenFileError reports a token file whose POSIX permission bits
// include group or other access, naming the offending mode in octal
// (spec.md §4.2, §8).
type InsecureTokenFileError struct {
	Path string
	Mode uint32
}

func (e *InsecureTokenFileError) Error() string {
	return fmt.Sprintf("token file %q has insecure permissions %04o (must be 0600 or stricter)", e.Path, e.Mode)
}

// MCPError wraps a protocol-hardening failure from internal/mcpclient
// (response-ID mismatch, notification overflow, oversized line, etc).
type MCPError struct {
	Message string
}

func (e *MCPError) Error() string { return e.Message }
