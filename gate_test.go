package authgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordCheck(t *testing.T) {
	central, store, _, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	t.Run("success starts a session", func(t *testing.T) {
		rc := &RequestContext{RequestID: "req-1", Path: "/login", Method: "POST"}
		session, err := central.PasswordCheck(rc, "Jim@Example.com", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, id, session.Identity.ID)
		assert.Equal(t, SessionSourceLogin, session.Source)
		assert.True(t, session.Active(time.Now()))
		assert.Equal(t, session, rc.Session)
		assert.Equal(t, id, rc.SelfUserID())
	})

	t.Run("empty identity", func(t *testing.T) {
		_, err := central.PasswordCheck(nil, "   ", "hunter2")
		require.Error(t, err)
		assert.Equal(t, CodeLoginUserNotFound, BestCode(err))
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, err := central.PasswordCheck(nil, "nobody@example.com", "hunter2")
		require.Error(t, err)
		assert.Equal(t, CodeLoginUserNotFound, BestCode(err))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := central.PasswordCheck(nil, "jim@example.com", "wrong")
		require.Error(t, err)
		assert.Equal(t, CodeLoginBadCredentials, BestCode(err))
	})

	t.Run("ambiguous identity is refused", func(t *testing.T) {
		_, err := store.CreateIdentity("jim@example.com", "jim2", "other")
		require.NoError(t, err)
		_, err = central.PasswordCheck(nil, "jim@example.com", "hunter2")
		require.Error(t, err)
		assert.Equal(t, CodeLoginAmbiguousIdentity, BestCode(err))
		assert.Equal(t, uint64(1), central.Stats.AmbiguousIdentities)
	})
}

func TestPasswordCheckLockedIdentity(t *testing.T) {
	central, store, _, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)
	store.SetLocked(id, true)

	_, err = central.PasswordCheck(nil, "jim@example.com", "hunter2")
	require.Error(t, err)
	assert.Equal(t, CodeLoginPermissionsRevoked, BestCode(err))
}

func TestCredentialCheck(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	session, err := central.PasswordCheck(nil, "jim@example.com", "hunter2")
	require.NoError(t, err)
	value := session.Credential.Value

	t.Run("valid credential", func(t *testing.T) {
		rc := &RequestContext{RequestID: "req-1", Path: "/check", Method: "GET"}
		resolved, err := central.CredentialCheck(rc, value)
		require.NoError(t, err)
		assert.Equal(t, id, resolved.Identity.ID)
		assert.Equal(t, rc.Credential, resolved.Credential)
	})

	t.Run("malformed value rejected before lookup", func(t *testing.T) {
		_, err := central.CredentialCheck(nil, "abc")
		require.Error(t, err)
		assert.Equal(t, CodeLoginBadCredentials, BestCode(err))
	})

	t.Run("unknown value", func(t *testing.T) {
		_, err := central.CredentialCheck(nil, "definitely-not-a-credential")
		require.Error(t, err)
		assert.Equal(t, CodeLoginBadCredentials, BestCode(err))
	})

	t.Run("revoked credential rejected", func(t *testing.T) {
		require.NoError(t, central.Logout(value, TerminationLogout))
		_, err := central.CredentialCheck(nil, value)
		require.Error(t, err)
		assert.Equal(t, CodeLoginPermissionsRevoked, BestCode(err))
	})

	t.Run("failure leaves stored state unchanged", func(t *testing.T) {
		before, err := credDB.FindCredentialsByOwner(id)
		require.NoError(t, err)
		_, err = central.CredentialCheck(nil, "definitely-not-a-credential")
		require.Error(t, err)
		after, err := credDB.FindCredentialsByOwner(id)
		require.NoError(t, err)
		assert.Equal(t, len(before), len(after))
	})
}

func TestCredentialCheckRenewsExpired(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	expired := &AccessCredential{
		ID:         "cred-old",
		Value:      generateCredentialValue(),
		IdentityID: id,
		IssuedAt:   time.Now().Add(-15 * 24 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Second),
		Source:     CredentialSourceLogin,
	}
	require.NoError(t, credDB.Save(expired))

	rc := &RequestContext{RequestID: "req-1", Path: "/check", Method: "GET"}
	session, err := central.CredentialCheck(rc, expired.Value)
	require.NoError(t, err)

	assert.NotEqual(t, expired.ID, session.Credential.ID)
	assert.Equal(t, SessionSourceRenewal, session.Source)
	assert.True(t, session.Credential.ExpiresAt.After(time.Now().Add(central.CredentialExpiresAfter-time.Minute)))

	old, err := credDB.FindCredentialByValue(expired.Value)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
}

func TestCredentialCheckExpiredNonRenewable(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	expired := &AccessCredential{
		ID:         "cred-old",
		Value:      generateCredentialValue(),
		IdentityID: id,
		IssuedAt:   time.Now().Add(-15 * 24 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Second),
		Source:     CredentialSourceLogin,
	}
	require.NoError(t, credDB.Save(expired))
	store.SetArchived(id, true)

	_, err = central.CredentialCheck(nil, expired.Value)
	require.Error(t, err)
	assert.Equal(t, CodeLoginPermissionsRevoked, BestCode(err))
}

func TestLogoutTerminatesSession(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	_, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	session, err := central.PasswordCheck(nil, "jim@example.com", "hunter2")
	require.NoError(t, err)
	value := session.Credential.Value

	require.NoError(t, central.Logout(value, TerminationLogout))
	assert.NotNil(t, session.TerminatedAt)
	assert.Equal(t, TerminationLogout, session.TerminationSource)
	assert.Nil(t, central.GetSession(value))

	stored, err := credDB.FindCredentialByValue(value)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)
}

func TestKickOut(t *testing.T) {
	central, store, _, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	session, err := central.PasswordCheck(nil, "jim@example.com", "hunter2")
	require.NoError(t, err)

	require.NoError(t, central.KickOut(id))
	assert.NotNil(t, session.TerminatedAt)
	assert.Equal(t, TerminationKickedOut, session.TerminationSource)
	assert.Nil(t, central.GetSession(session.Credential.Value))
}

func TestRequireAuth(t *testing.T) {
	central, store, _, _ := NewCentralDummy("")
	defer central.Close()
	_, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	public := NewRouteDescriptor("/open", "GET")
	protected := NewRouteDescriptor("/docs", "GET").WithRequiredAuth(AuthTierUser)

	assert.NoError(t, central.RequireAuth(nil, &public))
	assert.NoError(t, central.RequireAuth(nil, nil))

	err = central.RequireAuth(&RequestContext{}, &protected)
	require.Error(t, err)
	assert.Equal(t, CodeLoginNoPermission, BestCode(err))

	rc := &RequestContext{}
	_, err = central.PasswordCheck(rc, "jim@example.com", "hunter2")
	require.NoError(t, err)
	assert.NoError(t, central.RequireAuth(rc, &protected))
}
