package authgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrHttpBasicAuth     = errors.New("HTTP Basic Authorization must be base64(identity:password)")
	ErrHttpNotAuthorized = errors.New("No authorization information")
)

// resolveCredentialValue extracts the presented credential from a request:
// the credential cookie wins, then the Authorization Bearer header.
func resolveCredentialValue(config *ConfigHTTP, r *http.Request) string {
	if cookie, _ := r.Cookie(config.CookieName); cookie != nil && cookie.Value != expiredCookieValue {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// mainError is the wire shape of a classified failure.
type mainError struct {
	ErrorCode        int      `json:"error_code"`
	ErrorDomain      string   `json:"error_domain"`
	ErrorReason      string   `json:"error_reason"`
	UnderlyingErrors []string `json:"underlying_errors,omitempty"`
}

// errorBody is the JSON error envelope returned on authentication and
// authorization failures.
type errorBody struct {
	MainError         mainError  `json:"main_error"`
	RequestPath       string     `json:"request_path"`
	RequestID         string     `json:"request_id"`
	RequestSelfUserID IdentityID `json:"request_selfuser_id"`
}

// buildErrorBody converts a failure into the wire envelope. Outside debug
// builds, internal/unknown reasons are replaced with a generic message and
// the underlying chain is dropped, to avoid leaking internals.
func buildErrorBody(rc *RequestContext, errVal *ErrorValue, debug bool) *errorBody {
	status, defaultReason := Classify(errVal.Code)
	reason := errVal.Reason
	if !debug && (errVal.Code == CodeUnknown || status >= 500) {
		reason = "Something went wrong"
	}
	if reason == "" {
		reason = defaultReason
	}
	body := &errorBody{
		MainError: mainError{
			ErrorCode:   errVal.Code,
			ErrorDomain: errVal.Domain,
			ErrorReason: reason,
		},
		RequestPath:       rc.Path,
		RequestID:         rc.RequestID,
		RequestSelfUserID: rc.SelfUserID(),
	}
	if debug {
		for _, u := range errVal.UnderlyingChain() {
			body.MainError.UnderlyingErrors = append(body.MainError.UnderlyingErrors, u.Error())
		}
	}
	return body
}

func HttpSendTxt(w http.ResponseWriter, responseCode int, responseBody string) {
	w.Header().Add("Content-Type", "text/plain")
	w.Header().Add("Cache-Control", "no-cache, no-store, must revalidate")
	w.Header().Add("Pragma", "no-cache")
	w.Header().Add("Expires", "0")
	w.WriteHeader(responseCode)
	fmt.Fprintf(w, "%v", responseBody)
}

func HttpSendJSON(w http.ResponseWriter, responseCode int, value interface{}) {
	w.Header().Add("Content-Type", "application/json")
	w.Header().Add("Cache-Control", "no-cache, no-store, must revalidate")
	w.WriteHeader(responseCode)
	json.NewEncoder(w).Encode(value)
}

// HttpSendError records the failure in the routing history and answers it in
// the manner the route calls for. API routes get the JSON envelope with the
// mirrored status. Page routes failing authentication are redirected to the
// login page; other page failures are redirected to the error page carrying
// the request id, from which the next request recovers the original cause via
// the routing history.
func HttpSendError(config *ConfigHTTP, central *Central, w http.ResponseWriter, r *http.Request, rc *RequestContext, err error) {
	errVal := AsErrorValue(err)
	status, _ := Classify(errVal.Code)

	central.HistoryFor(rc).Update(rc.Path, rc.Method, rc.RequestID, errVal)

	descriptor := central.Registry.Lookup(rc.Path, rc.Method)
	isPage := descriptor != nil && descriptor.Product == ProductPage
	if !isPage {
		HttpSendJSON(w, status, buildErrorBody(rc, errVal, config.Debug))
		return
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		http.Redirect(w, r, config.LoginPath, http.StatusSeeOther)
		return
	}
	target := config.ErrorPath + "?request_id=" + url.QueryEscape(rc.RequestID)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HttpHandlerLogin authenticates an identity and password, presented either
// as HTTP Basic authorization or as form values, and on success sends back
// the credential cookie plus the public session.
func HttpHandlerLogin(config *ConfigHTTP, central *Central, w http.ResponseWriter, r *http.Request) {
	rc := NewRequestContext(r)
	identity, password, basicOK := r.BasicAuth()
	if !basicOK {
		identity = r.FormValue("identity")
		password = r.FormValue("password")
	}
	if identity == "" {
		HttpSendError(config, central, w, r, rc, Abort(http.StatusBadRequest, ErrHttpBasicAuth.Error()))
		return
	}
	session, err := central.PasswordCheck(rc, identity, password)
	if err != nil {
		HttpSendError(config, central, w, r, rc, err)
		return
	}
	http.SetCookie(w, central.MakeCredentialCookie(config, session.Credential))
	HttpSendJSON(w, http.StatusOK, session.Public(r.FormValue("redirect")))
}

// HttpHandlerLogout revokes the presented credential, terminates its session,
// and sends the forced-expiry cookie so the client forgets the value even if
// it ignores server state.
func HttpHandlerLogout(config *ConfigHTTP, central *Central, w http.ResponseWriter, r *http.Request) {
	value := resolveCredentialValue(config, r)
	if value != "" {
		if err := central.Logout(value, TerminationLogout); err != nil {
			central.Log.Warnf("Logout failed (%v)", err)
		}
	}
	http.SetCookie(w, MakeExpiredCookie(config))
	HttpSendTxt(w, http.StatusOK, "")
}

// HttpHandlerCheck is the whoami endpoint: it authenticates the presented
// credential and returns the public session. A transparently renewed
// credential is sent back as a fresh cookie.
func HttpHandlerCheck(config *ConfigHTTP, central *Central, w http.ResponseWriter, r *http.Request) {
	rc := NewRequestContext(r)
	value := resolveCredentialValue(config, r)
	if value == "" {
		HttpSendError(config, central, w, r, rc, Abort(http.StatusUnauthorized, ErrHttpNotAuthorized.Error()))
		return
	}
	session, err := central.CredentialCheck(rc, value)
	if err != nil {
		HttpSendError(config, central, w, r, rc, err)
		return
	}
	if session.Credential.Value != value {
		http.SetCookie(w, central.MakeCredentialCookie(config, session.Credential))
	}
	HttpSendJSON(w, http.StatusOK, session.Public(""))
}

// HttpHandlerErrorPage renders the failure that caused a redirect here. The
// originating request id arrives as a query parameter and is resolved through
// the routing history. A missing entry degrades to a generic message; the
// absence of history is not the user's concern.
func HttpHandlerErrorPage(config *ConfigHTTP, central *Central, w http.ResponseWriter, r *http.Request) {
	rc := NewRequestContext(r)
	requestID := r.URL.Query().Get("request_id")

	var entry *RoutingHistoryEntry
	if value := resolveCredentialValue(config, r); value != "" {
		if session, err := central.CredentialCheck(rc, value); err == nil {
			entry = session.History(central.HistoryCapacity).ErrorFor(requestID)
		}
	}
	if entry == nil {
		entry = central.fallbackHistory.ErrorFor(requestID)
	}
	if entry == nil {
		HttpSendJSON(w, http.StatusOK, map[string]string{"message": "Something went wrong"})
		return
	}

	errRC := &RequestContext{RequestID: entry.RequestID, Path: entry.Path, Method: entry.Method}
	if rc.Identity != nil {
		errRC.Identity = rc.Identity
	}
	status, _ := Classify(entry.Err.Code)
	HttpSendJSON(w, status, buildErrorBody(errRC, entry.Err, config.Debug))
}

// HttpHandlerPrelude authenticates a request for a protected endpoint: it
// resolves the presented credential, runs the credential check, and verifies
// the route's required authorization tier. On failure the response has
// already been sent and the returned error is non-nil.
func HttpHandlerPrelude(config *ConfigHTTP, central *Central, w http.ResponseWriter, r *http.Request) (*RequestContext, error) {
	rc := NewRequestContext(r)
	descriptor := central.Registry.Lookup(rc.Path, rc.Method)
	if descriptor != nil && descriptor.RequiredAuth == AuthTierPublic {
		return rc, nil
	}
	value := resolveCredentialValue(config, r)
	if value == "" {
		err := Abort(http.StatusUnauthorized, ErrHttpNotAuthorized.Error())
		HttpSendError(config, central, w, r, rc, err)
		return rc, err
	}
	if _, err := central.CredentialCheck(rc, value); err != nil {
		HttpSendError(config, central, w, r, rc, err)
		return rc, err
	}
	if err := central.RequireAuth(rc, descriptor); err != nil {
		HttpSendError(config, central, w, r, rc, err)
		return rc, err
	}
	// A transparently renewed credential must reach the client, otherwise it
	// keeps presenting the old value, which renewal just revoked.
	if rc.Credential != nil && rc.Credential.Value != value {
		http.SetCookie(w, central.MakeCredentialCookie(config, rc.Credential))
	}
	return rc, nil
}

// RunHttp registers the built-in endpoints, seals the route registry, audits
// route security, and serves. You will probably want to register your own
// endpoints and do the wiring yourself instead of using this; it is useful
// for demo purposes and for hosts that only need the authentication surface.
func RunHttp(config *ConfigHTTP, central *Central) error {
	makehandler := func(actual func(*ConfigHTTP, *Central, http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			actual(config, central, w, r)
		}
	}

	type endpoint struct {
		path    string
		methods []string
		tier    AuthTier
		title   string
		handler func(*ConfigHTTP, *Central, http.ResponseWriter, *http.Request)
	}
	endpoints := []endpoint{
		{config.LoginPath, []string{"GET", "POST"}, AuthTierPublic, "Login", HttpHandlerLogin},
		{"/logout", []string{"GET", "POST"}, AuthTierPublic, "Logout", HttpHandlerLogout},
		{"/check", []string{"GET"}, AuthTierUser, "Who am I", HttpHandlerCheck},
		{config.ErrorPath, []string{"GET"}, AuthTierPublic, "Error display", HttpHandlerErrorPage},
	}

	mux := http.NewServeMux()
	transportRouteCount := 0
	for _, ep := range endpoints {
		for _, method := range ep.methods {
			d := NewRouteDescriptor(ep.path, method).
				WithTitle(ep.title).
				WithGroupTag("authgate").
				WithRequiredAuth(ep.tier)
			if err := central.Registry.Register(d); err != nil {
				return err
			}
			transportRouteCount++
		}
		mux.HandleFunc(ep.path, makehandler(ep.handler))
	}
	central.Registry.FinishBoot()

	if _, err := central.Auditor.Audit(transportRouteCount); err != nil {
		if central.StrictAudit {
			central.Log.Errorf("Route security audit failed: %v", err)
			return err
		}
		central.Log.Warnf("Route security audit failed: %v", err)
	}
	go func() {
		// Second run once late-initializing collaborators have settled.
		time.Sleep(5 * time.Second)
		if _, err := central.Auditor.AuditAfterBoot(transportRouteCount); err != nil {
			central.Log.Warnf("After-boot route security audit failed: %v", err)
		}
	}()

	central.Log.Infof("Listening on %v:%v", config.Bind, config.Port)
	return http.ListenAndServe(fmt.Sprintf("%v:%v", config.Bind, config.Port), mux)
}

func RunHttpFromConfig(config *Config) error {
	central, err := NewCentralFromConfig(config)
	if err != nil {
		return err
	}
	return RunHttp(&config.HTTP, central)
}
