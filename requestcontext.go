package authgate

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is the transport's per-request correlation identifier.
const requestIDHeader = "X-Request-ID"

// RequestContext carries the per-request state this subsystem resolves:
// the correlation identifier, and, once authentication succeeds, the identity,
// credential and session. It is passed explicitly down the call chain instead
// of living in ambient mutable storage.
type RequestContext struct {
	RequestID string
	Path      string
	Method    string

	Identity   *IdentitySummary
	Credential *AccessCredential
	Session    *Session
}

// NewRequestContext builds a context for an inbound request, taking the
// correlation identifier from the transport or generating one when the
// transport supplied none.
func NewRequestContext(r *http.Request) *RequestContext {
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	return &RequestContext{
		RequestID: id,
		Path:      NormalizeRoutePath(r.URL.Path),
		Method:    r.Method,
	}
}

// AttachSession records a successful authentication on the context.
func (rc *RequestContext) AttachSession(s *Session) {
	rc.Session = s
	rc.Credential = s.Credential
	identity := s.Identity
	rc.Identity = &identity
}

// SelfUserID returns the resolved identity's id, or NullIdentityID for an
// anonymous request.
func (rc *RequestContext) SelfUserID() IdentityID {
	if rc.Identity == nil {
		return NullIdentityID
	}
	return rc.Identity.ID
}

type requestContextKey struct{}

// WithRequestContext stores the RequestContext on a context.Context so
// downstream handlers outside this package can reach it.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves the RequestContext, or nil when the request
// never passed through the gate.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
