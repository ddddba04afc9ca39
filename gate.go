package authgate

import (
	"strings"
	"time"
)

// PasswordCheck resolves a login key and password into a session. Candidate
// resolution expects exactly one identity: zero yields user-not-found, more
// than one is a data anomaly, logged and rejected as ambiguous rather than
// silently resolved. On success the session is attached to the request
// context. On failure nothing in stored state changes and the returned error
// is always classified.
func (x *Central) PasswordCheck(rc *RequestContext, loginKey, password string) (*Session, error) {
	// Treat the empty key specially, since it is a very common condition and
	// tends to flood the logs.
	loginKey = strings.TrimSpace(loginKey)
	if loginKey == "" {
		x.Stats.IncrementEmptyIdentities(x.Log)
		return nil, NewErrorValue(DomainLogin, CodeLoginUserNotFound, "")
	}

	candidates, err := x.identityStore.FindIdentitiesByLoginKey(loginKey)
	if err != nil {
		return nil, Wrap(NewErrorValue(DomainLogin, CodeLoginFailed, ""), err)
	}
	if len(candidates) == 0 {
		x.Stats.IncrementInvalidPasswords(x.Log)
		return nil, NewErrorValue(DomainLogin, CodeLoginUserNotFound, "")
	}
	if len(candidates) > 1 {
		x.Stats.IncrementAmbiguousIdentities(x.Log)
		x.Log.Errorf("Login key %v resolves to %v identities; refusing ambiguous login", loginKey, len(candidates))
		return nil, NewErrorValue(DomainLogin, CodeLoginAmbiguousIdentity, "")
	}
	identity := candidates[0]

	if identity.Type == IdentityTypeDirectory && x.directory != nil {
		err = x.directory.Verify(identity, password)
	} else {
		err = x.identityStore.VerifyPassword(identity.ID, password)
	}
	if err != nil {
		x.Stats.IncrementInvalidPasswords(x.Log)
		x.Log.Errorf("Login authentication failed (%v) (%v)", identity.ID, err)
		return nil, Wrap(NewErrorValue(DomainLogin, CodeLoginBadCredentials, ""), err)
	}

	if !identity.CanLogin() {
		x.Log.Warnf("Login refused for archived or locked identity (%v)", identity.ID)
		return nil, NewErrorValue(DomainLogin, CodeLoginPermissionsRevoked, "")
	}

	cred, err := x.GetOrIssueCredential(identity.ID, CredentialSourceLogin)
	if err != nil {
		x.Log.Errorf("Login credential issuance failed (%v) (%v)", identity.ID, err)
		return nil, Wrap(NewErrorValue(DomainLogin, CodeLoginFailed, ""), err)
	}

	session := x.StartSession(cred, identity.Summary(), SessionSourceLogin)
	if rc != nil {
		rc.AttachSession(session)
	}
	x.Stats.IncrementGoodLogin(x.Log)
	x.Log.Infof("Login successful (%v)", identity.ID)
	return session, nil
}

// CredentialCheck resolves a presented opaque credential value into a session.
// Malformed values (below the minimum length) are rejected before any store
// lookup. An expired credential belonging to an identity that may still log
// in is renewed transparently; one belonging to an archived or locked
// identity is rejected. On success the identity and credential are attached
// to the request context and LastUsedAt is bumped.
func (x *Central) CredentialCheck(rc *RequestContext, presented string) (*Session, error) {
	if len(presented) < x.MinCredentialLength {
		x.Stats.IncrementInvalidCredentials(x.Log)
		return nil, NewErrorValue(DomainLogin, CodeLoginBadCredentials, "Malformed access credential")
	}

	if session := x.GetSession(presented); session != nil && session.Active(time.Now()) {
		if err := x.credentialDB.TouchLastUsed(session.Credential.ID); err != nil {
			x.Log.Warnf("TouchLastUsed failed (%v) (%v)", session.Credential.ID, err)
		}
		if rc != nil {
			rc.AttachSession(session)
		}
		return session, nil
	}

	cred, err := x.credentialDB.FindCredentialByValue(presented)
	if err != nil {
		x.Stats.IncrementInvalidCredentials(x.Log)
		return nil, Wrap(NewErrorValue(DomainLogin, CodeLoginBadCredentials, ""), err)
	}
	if cred.Revoked {
		x.Stats.IncrementInvalidCredentials(x.Log)
		return nil, NewErrorValue(DomainLogin, CodeLoginPermissionsRevoked, "")
	}

	identity, err := x.identityStore.GetIdentity(cred.IdentityID)
	if err != nil {
		x.Stats.IncrementInvalidCredentials(x.Log)
		return nil, Wrap(NewErrorValue(DomainLogin, CodeLoginUserNotFound, ""), err)
	}

	if cred.IsExpired(time.Now()) {
		x.Stats.IncrementExpiredCredentials(x.Log)
		if !identity.CanLogin() {
			return nil, NewErrorValue(DomainLogin, CodeLoginPermissionsRevoked, "")
		}
		renewed, err := x.RenewIfNeeded(cred)
		if err != nil {
			x.Log.Errorf("Credential renewal failed (%v) (%v)", cred.ID, err)
			return nil, Wrap(NewErrorValue(DomainLogin, CodeLoginFailed, ""), err)
		}
		cred = renewed
		session := x.StartSession(cred, identity.Summary(), SessionSourceRenewal)
		if rc != nil {
			rc.AttachSession(session)
		}
		return session, nil
	}

	if err := x.credentialDB.TouchLastUsed(cred.ID); err != nil {
		x.Log.Warnf("TouchLastUsed failed (%v) (%v)", cred.ID, err)
	}
	cred.LastUsedAt = time.Now()
	session := x.StartSession(cred, identity.Summary(), SessionSourceLogin)
	if rc != nil {
		rc.AttachSession(session)
	}
	return session, nil
}

// RequireAuth checks that a resolved request context satisfies the
// descriptor's required authorization tier.
func (x *Central) RequireAuth(rc *RequestContext, d *RouteDescriptor) error {
	if d == nil || d.RequiredAuth == AuthTierPublic {
		return nil
	}
	if rc == nil || rc.Session == nil || !rc.Session.Active(time.Now()) {
		return NewErrorValue(DomainLogin, CodeLoginNoPermission, "")
	}
	return nil
}
