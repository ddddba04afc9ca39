package authgate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// NOTE: These 'base' error strings may not be prefixes of each other,
	// otherwise it violates our NewError() concept, which ensures that
	// any authgate error starts with one of these *unique* prefixes
	ErrConnect             = errors.New("Connect failed")
	ErrUnsupported         = errors.New("Unsupported operation")
	ErrIdentityNotFound    = errors.New("Identity not found")
	ErrIdentityEmpty       = errors.New("Identity may not be empty")
	ErrIdentityAmbiguous   = errors.New("Identity is ambiguous")
	ErrIdentityLocked      = errors.New("Account locked. Please contact your administrator")
	ErrInvalidPassword     = errors.New("Invalid password")
	ErrInvalidCredential   = errors.New("Invalid access credential")
	ErrCredentialExpired   = errors.New("Access credential has expired")
	ErrCredentialRevoked   = errors.New("Access credential has been revoked")
	ErrRegistryClosed      = errors.New("Route registry is closed to registration")
	ErrRegistryNotReady    = errors.New("Route registry readiness timeout")
	ErrAuditCountMismatch  = errors.New("Route count reconciliation failed")
	ErrAuditUnsecuredRoute = errors.New("Route has no authorization rule")
)

// NewError is to be used whenever you return an authgate error. We rely upon the
// prefix of the error string to identify the broad category of the error.
func NewError(base error, detail string) error {
	return errors.New(base.Error() + ": " + detail)
}

// Error domains. A domain plus a code uniquely identifies a catalog entry.
const (
	DomainHTTP     = "authgate.http"
	DomainLogin    = "authgate.login"
	DomainSecurity = "authgate.security"
	DomainMisc     = "authgate.misc"
)

// Login and logout error codes
const (
	CodeLoginFailed             = 2501
	CodeLoginNoPermission       = 2502
	CodeLoginBadCredentials     = 2503
	CodeLoginPermissionsRevoked = 2504
	CodeLoginUserNotFound       = 2508
	CodeLoginAmbiguousIdentity  = 2509
	CodeLogoutFailed            = 2530
)

// Security audit error codes
const (
	CodeSecurityUnsecuredRoute = 9040
	CodeSecurityCountMismatch  = 9041
)

// CodeUnknown is the catch-all code for failures that fit nowhere else.
const CodeUnknown = 9000

// maxUnderlyingDepth bounds the underlying chain of an ErrorValue, so that a
// buggy wrap loop cannot build a pathological recursion.
const maxUnderlyingDepth = 32

// ErrorValue is a classified failure: a catalog entry identified by domain and
// code, carrying a human-readable reason and an optional chain of underlying
// causes. ErrorValues are immutable after construction.
type ErrorValue struct {
	Domain     string      `json:"error_domain"`
	Code       int         `json:"error_code"`
	Reason     string      `json:"error_reason"`
	Underlying *ErrorValue `json:"underlying_error,omitempty"`
}

func (e *ErrorValue) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%v/%v %v: %v", e.Domain, e.Code, e.Reason, e.Underlying.Error())
	}
	return fmt.Sprintf("%v/%v %v", e.Domain, e.Code, e.Reason)
}

func (e *ErrorValue) Unwrap() error {
	if e.Underlying == nil {
		return nil
	}
	return e.Underlying
}

// UnderlyingChain returns the chain of underlying causes, outermost first,
// excluding the receiver itself.
func (e *ErrorValue) UnderlyingChain() []*ErrorValue {
	chain := []*ErrorValue{}
	for u := e.Underlying; u != nil && len(chain) < maxUnderlyingDepth; u = u.Underlying {
		chain = append(chain, u)
	}
	return chain
}

// NewErrorValue constructs a catalog error with an explicit reason. An empty
// reason falls back to the catalog's default reason for the code.
func NewErrorValue(domain string, code int, reason string) *ErrorValue {
	if reason == "" {
		_, reason = Classify(code)
	}
	return &ErrorValue{Domain: domain, Code: code, Reason: reason}
}

// HTTPErrorValue mirrors a plain transport status as a catalog error.
func HTTPErrorValue(status int, reason string) *ErrorValue {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &ErrorValue{Domain: DomainHTTP, Code: status, Reason: reason}
}

// HTTPError is a transport-level abort: a bare status and message raised by a
// handler that never went through the catalog. BestCode and Classify accept it
// alongside proper ErrorValues.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Abort returns a transport-level failure with the given status.
func Abort(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// catalog maps non-HTTP-mirror codes to their transport status and default reason.
var catalog = map[int]struct {
	status int
	reason string
}{
	CodeLoginFailed:             {http.StatusUnauthorized, "Login failed"},
	CodeLoginNoPermission:       {http.StatusForbidden, "No permission"},
	CodeLoginBadCredentials:     {http.StatusUnauthorized, "Bad credentials"},
	CodeLoginPermissionsRevoked: {http.StatusForbidden, "Permissions revoked"},
	CodeLoginUserNotFound:       {http.StatusUnauthorized, "User not found"},
	CodeLoginAmbiguousIdentity:  {http.StatusUnauthorized, "Ambiguous identity"},
	CodeLogoutFailed:            {http.StatusInternalServerError, "Logout failed"},
	CodeSecurityUnsecuredRoute:  {http.StatusInternalServerError, "Route has no authorization rule"},
	CodeSecurityCountMismatch:   {http.StatusInternalServerError, "Route count reconciliation failed"},
	CodeUnknown:                 {http.StatusInternalServerError, "Unknown error"},
}

// Classify maps a catalog code to its transport status and default reason.
// Codes in [100,599] mirror HTTP statuses 1:1. A code outside the catalog
// degrades to (500, "Unknown error"). Classify never panics.
func Classify(code int) (status int, defaultReason string) {
	if code >= 100 && code <= 599 {
		reason := http.StatusText(code)
		if reason == "" {
			reason = "Unknown error"
		}
		return code, reason
	}
	if entry, ok := catalog[code]; ok {
		return entry.status, entry.reason
	}
	return http.StatusInternalServerError, "Unknown error"
}

// Wrap attaches 'underlying' as the cause of 'existing'. Both values are left
// unmodified; the result is a fresh ErrorValue. If appending would exceed the
// depth bound, the deepest cause is dropped.
func Wrap(existing *ErrorValue, underlying error) *ErrorValue {
	if existing == nil {
		return AsErrorValue(underlying)
	}
	cause := AsErrorValue(underlying)
	if cause == nil {
		clone := *existing
		return &clone
	}
	chain := []*ErrorValue{existing}
	chain = append(chain, existing.UnderlyingChain()...)
	if len(chain) >= maxUnderlyingDepth {
		chain = chain[:maxUnderlyingDepth-1]
	}
	result := *cause
	tail := &result
	for i := len(chain) - 1; i >= 0; i-- {
		clone := *chain[i]
		clone.Underlying = tail
		tail = &clone
	}
	return tail
}

// isBase matches both a wrapped sentinel and the string-prefix form produced
// by NewError.
func isBase(err, base error) bool {
	return errors.Is(err, base) || strings.HasPrefix(err.Error(), base.Error())
}

// sentinelCode maps the package sentinel errors onto catalog codes, so that a
// store-layer failure surfaces with a proper code rather than CodeUnknown.
func sentinelCode(err error) (int, bool) {
	switch {
	case isBase(err, ErrIdentityNotFound):
		return CodeLoginUserNotFound, true
	case isBase(err, ErrIdentityEmpty):
		return CodeLoginUserNotFound, true
	case isBase(err, ErrIdentityAmbiguous):
		return CodeLoginAmbiguousIdentity, true
	case isBase(err, ErrIdentityLocked):
		return CodeLoginPermissionsRevoked, true
	case isBase(err, ErrInvalidPassword):
		return CodeLoginBadCredentials, true
	case isBase(err, ErrInvalidCredential):
		return CodeLoginBadCredentials, true
	case isBase(err, ErrCredentialExpired):
		return CodeLoginBadCredentials, true
	case isBase(err, ErrCredentialRevoked):
		return CodeLoginPermissionsRevoked, true
	case isBase(err, ErrAuditUnsecuredRoute):
		return CodeSecurityUnsecuredRoute, true
	case isBase(err, ErrAuditCountMismatch):
		return CodeSecurityCountMismatch, true
	}
	return 0, false
}

// AsErrorValue converts any failure into a catalog error. It accepts a
// declared ErrorValue, a transport abort (HTTPError), a package sentinel, or
// an untyped error, degrading to CodeUnknown. A nil error yields nil.
func AsErrorValue(err error) *ErrorValue {
	if err == nil {
		return nil
	}
	var ev *ErrorValue
	if errors.As(err, &ev) {
		return ev
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return HTTPErrorValue(httpErr.Status, httpErr.Message)
	}
	if code, ok := sentinelCode(err); ok {
		domain := DomainLogin
		if code == CodeSecurityUnsecuredRoute || code == CodeSecurityCountMismatch {
			domain = DomainSecurity
		}
		return &ErrorValue{Domain: domain, Code: code, Reason: err.Error()}
	}
	return &ErrorValue{Domain: DomainMisc, Code: CodeUnknown, Reason: err.Error()}
}

// BestCode extracts the most specific catalog code from any failure.
// It never panics, and never returns a code outside the catalog.
func BestCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return AsErrorValue(err).Code
}

// BestReason extracts a non-empty human reason from any failure.
func BestReason(err error) string {
	if err == nil {
		return ""
	}
	ev := AsErrorValue(err)
	if ev.Reason != "" {
		return ev.Reason
	}
	_, reason := Classify(ev.Code)
	return reason
}

// isRedirectCode reports whether a code mirrors a 3xx transport status.
// Redirects are a mechanism, not a cause, and must never displace a recorded
// failure in the routing history.
func isRedirectCode(code int) bool {
	return code >= 300 && code <= 399
}
