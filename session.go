package authgate

import (
	"net/http"
	"time"
)

// expiredCookieValue is the placeholder written into the logout cookie. The
// already-expired cookie forces client-side invalidation even if the client
// ignores server state.
const expiredCookieValue = "-expired-"

// maxCookieSize is the conventional per-cookie limit honored by browsers.
// We warn when a credential cookie approaches it rather than truncating.
const maxCookieSize = 4096

// SessionSource records how a session came to exist.
type SessionSource string

const (
	SessionSourceSignup  SessionSource = "signup"
	SessionSourceLogin   SessionSource = "login"
	SessionSourceRenewal SessionSource = "tokenRefresh"
)

// TerminationSource records why a session ended.
type TerminationSource string

const (
	TerminationTimeout   TerminationSource = "timeout"
	TerminationLogout    TerminationSource = "logout"
	TerminationKickedOut TerminationSource = "kickedOut"
)

// Session is the live pairing of an identity and its current credential for
// one login episode. It is reconstructed from the presented credential value
// on each request, and destroyed (marked terminated) on logout.
type Session struct {
	Credential        *AccessCredential
	Identity          IdentitySummary
	Source            SessionSource
	CreatedAt         time.Time
	TerminatedAt      *time.Time
	TerminationSource TerminationSource

	history *RoutingHistory
}

// NewSession binds a credential to a session object.
func NewSession(cred *AccessCredential, identity IdentitySummary, source SessionSource) *Session {
	return &Session{
		Credential: cred,
		Identity:   identity,
		Source:     source,
		CreatedAt:  cred.IssuedAt,
	}
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	return s.TerminatedAt == nil && s.Credential.IsValid(now)
}

// Terminate stamps the session as ended. Subsequent lookups must report "not
// active" even while the underlying credential row still exists.
func (s *Session) Terminate(source TerminationSource, at time.Time) {
	if s.TerminatedAt != nil {
		return
	}
	s.TerminatedAt = &at
	s.TerminationSource = source
}

// History returns the session's routing journal, creating it on first use.
func (s *Session) History(capacity int) *RoutingHistory {
	if s.history == nil {
		s.history = NewRoutingHistory(capacity)
	}
	return s.history
}

// PublicSession is the projection of a session handed to the transport layer.
// It carries the minimum a caller needs to authenticate subsequently: the
// opaque value plus expiry. Internal bookkeeping never leaves the server.
type PublicSession struct {
	Token          string             `json:"token"`
	ExpiresAt      time.Time          `json:"expires_at"`
	Identity       IdentitySummary    `json:"user"`
	StartedAt      time.Time          `json:"start_time"`
	Source         SessionSource      `json:"start_source"`
	TerminatedAt   *time.Time         `json:"termination_time,omitempty"`
	Termination    *TerminationSource `json:"termination_source,omitempty"`
	ClientRedirect string             `json:"client_redirect,omitempty"`
}

// Public returns the safe projection of the session, with an optional
// redirect hint for the client.
func (s *Session) Public(redirect string) *PublicSession {
	p := &PublicSession{
		Token:          s.Credential.Value,
		ExpiresAt:      s.Credential.ExpiresAt,
		Identity:       s.Identity,
		StartedAt:      s.CreatedAt,
		Source:         s.Source,
		TerminatedAt:   s.TerminatedAt,
		ClientRedirect: redirect,
	}
	if s.TerminatedAt != nil {
		term := s.TerminationSource
		p.Termination = &term
	}
	return p
}

// MakeCredentialCookie mirrors a credential into a cookie. The cookie's
// expiry matches the credential's, httpOnly is on outside debug builds, and
// SameSite is Lax so that top-level navigation after a redirect still carries
// the cookie.
func (x *Central) MakeCredentialCookie(config *ConfigHTTP, cred *AccessCredential) *http.Cookie {
	remaining := time.Until(cred.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	cookie := &http.Cookie{
		Name:     config.CookieName,
		Value:    cred.Value,
		Path:     "/",
		Domain:   config.CookieDomain,
		Expires:  cred.ExpiresAt,
		MaxAge:   int(remaining.Seconds()),
		Secure:   config.CookieSecure,
		HttpOnly: !config.Debug,
		SameSite: http.SameSiteLaxMode,
	}
	if len(cookie.Value) > maxCookieSize-len(cookie.Name) {
		x.Log.Warnf("Credential cookie %v exceeds %v bytes and may be dropped by clients", cookie.Name, maxCookieSize)
	}
	return cookie
}

// MakeExpiredCookie produces the logout cookie: same name, placeholder value,
// expiry in the past.
func MakeExpiredCookie(config *ConfigHTTP) *http.Cookie {
	return &http.Cookie{
		Name:     config.CookieName,
		Value:    expiredCookieValue,
		Path:     "/",
		Domain:   config.CookieDomain,
		Expires:  time.Now().Add(-24 * time.Hour),
		MaxAge:   -1,
		Secure:   config.CookieSecure,
		HttpOnly: !config.Debug,
		SameSite: http.SameSiteLaxMode,
	}
}
