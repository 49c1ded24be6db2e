package errmap

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Code classifies high-level error categories for user-facing messages.
type Code string

const (
	// Local, pre-flight failures.
	CodeValidation Code = "validation"

	// Engine operation failures.
	CodeBuild      Code = "build_failed"
	CodeGeneration Code = "generation_failed"
	CodeExecution  Code = "execution_failed"
	CodeSave       Code = "save_failed"
	CodeRemote     Code = "remote_error"

	// Transport-level failures.
	CodeCanceled            Code = "canceled"
	CodeTimeout             Code = "timeout"
	CodeDNSError            Code = "dns_error"
	CodeInvalidURL          Code = "invalid_url"
	CodeUnsupportedScheme   Code = "unsupported_scheme"
	CodeConnectionRefused   Code = "connection_refused"
	CodeConnectionReset     Code = "connection_reset"
	CodeNetworkUnreachable  Code = "network_unreachable"
	CodeTLSUnknownAuthority Code = "tls_unknown_authority"
	CodeTLSHostnameMismatch Code = "tls_hostname_mismatch"
	CodeTLSHandshake        Code = "tls_handshake"

	// Programming errors (missing workflow id, broken invariants).
	CodeInternal Code = "internal"

	CodeUnexpected Code = "unexpected"
)

// Error is a small wrapper that carries a code and request context while
// preserving the original cause via Unwrap.
type Error struct {
	Code      Code
	Message   string
	Field     string
	Operation string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = humanize(e.Code, e.cause)
	}
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s", e.Operation, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error with the supplied code, message, and underlying cause.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Validation builds a field-scoped validation error. These block phase
// advancement and never reach the engine.
func Validation(field, message string) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: message}
}

// Internal marks a broken invariant; callers treat it as a programming error.
func Internal(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// CodeOf extracts the Code from err, or CodeUnexpected for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}

func humanize(code Code, cause error) string {
	switch code {
	case CodeCanceled:
		return "request was canceled"
	case CodeTimeout:
		return "request timed out"
	case CodeDNSError:
		var dn *net.DNSError
		if errors.As(cause, &dn) {
			if dn.Name != "" {
				return fmt.Sprintf("DNS lookup failed for %q: %s", dn.Name, dn.Err)
			}
			return fmt.Sprintf("DNS error: %s", dn.Err)
		}
		return "DNS error"
	case CodeInvalidURL:
		return "invalid URL"
	case CodeUnsupportedScheme:
		return "unsupported protocol scheme"
	case CodeConnectionRefused:
		return "connection refused by remote host"
	case CodeConnectionReset:
		return "connection reset by peer"
	case CodeNetworkUnreachable:
		return "network unreachable"
	case CodeTLSUnknownAuthority:
		return "TLS: unknown certificate authority"
	case CodeTLSHostnameMismatch:
		return "TLS: certificate does not match host"
	case CodeTLSHandshake:
		return "TLS handshake failed"
	case CodeBuild:
		return "workflow build failed"
	case CodeGeneration:
		return "generation failed"
	case CodeExecution:
		return "step execution failed"
	case CodeSave:
		return "save failed"
	default:
		if cause != nil {
			return cause.Error()
		}
		return "unexpected error"
	}
}

// Map converts an arbitrary error into an *Error with a best-effort code.
// It keeps the original error as the cause.
func Map(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err // already mapped
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeCanceled, Retryable: true, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Retryable: true, cause: err}
	}

	// url.Error often wraps timeouts, invalid URLs, etc.
	var uerr *url.Error
	if errors.As(err, &uerr) {
		var t net.Error
		if errors.As(uerr.Err, &t) && t.Timeout() {
			return &Error{Code: CodeTimeout, Retryable: true, cause: err}
		}
		lower := strings.ToLower(uerr.Error())
		if strings.Contains(lower, "unsupported protocol scheme") {
			return &Error{Code: CodeUnsupportedScheme, cause: err}
		}
		if strings.Contains(lower, "invalid url") || strings.Contains(lower, "invalid uri") {
			return &Error{Code: CodeInvalidURL, cause: err}
		}
		err = uerr.Err
	}

	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		return &Error{Code: CodeDNSError, Retryable: dnserr.IsTemporary, cause: dnserr}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return &Error{Code: CodeTimeout, Retryable: true, cause: nerr}
		}
	}

	var operr *net.OpError
	if errors.As(err, &operr) {
		switch {
		case errors.Is(operr.Err, syscall.ECONNREFUSED):
			return &Error{Code: CodeConnectionRefused, Retryable: true, cause: err}
		case errors.Is(operr.Err, syscall.ECONNRESET):
			return &Error{Code: CodeConnectionReset, Retryable: true, cause: err}
		case errors.Is(operr.Err, syscall.ENETUNREACH), errors.Is(operr.Err, syscall.EHOSTUNREACH):
			return &Error{Code: CodeNetworkUnreachable, Retryable: true, cause: err}
		}
	}

	var ua *x509.UnknownAuthorityError
	if errors.As(err, &ua) {
		return &Error{Code: CodeTLSUnknownAuthority, cause: err}
	}
	var hn *x509.HostnameError
	if errors.As(err, &hn) {
		return &Error{Code: CodeTLSHostnameMismatch, cause: err}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "handshake failure"), strings.Contains(lower, "tls"):
		return &Error{Code: CodeTLSHandshake, cause: err}
	case strings.Contains(lower, "timeout"):
		return &Error{Code: CodeTimeout, cause: err}
	case strings.Contains(lower, "refused"):
		return &Error{Code: CodeConnectionRefused, cause: err}
	case strings.Contains(lower, "reset"):
		return &Error{Code: CodeConnectionReset, cause: err}
	}

	return &Error{Code: CodeUnexpected, cause: err}
}

// MapOperation annotates the mapped error with the engine operation that
// produced it. The annotation goes on a copy; a mapped error may be shared
// between callers and must not change under them.
func MapOperation(operation string, err error) error {
	if err == nil {
		return nil
	}
	m := Map(err)
	var me *Error
	if errors.As(m, &me) {
		annotated := *me
		annotated.Operation = operation
		return &annotated
	}
	return m
}
