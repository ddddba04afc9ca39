package authgate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialValidity(t *testing.T) {
	now := time.Now()
	cred := &AccessCredential{IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, cred.IsValid(now))
	assert.False(t, cred.IsExpired(now))
	assert.False(t, cred.IsValid(now.Add(2*time.Hour)))
	assert.True(t, cred.IsExpired(now.Add(2*time.Hour)))

	cred.Revoked = true
	assert.False(t, cred.IsValid(now))
}

func TestCredentialValueGeneration(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		v := generateCredentialValue()
		assert.Equal(t, credentialValueLength, len(v))
		assert.False(t, seen[v], "generated values must not repeat")
		seen[v] = true
		for _, ch := range v {
			valid := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
			assert.True(t, valid, "unexpected character %q", ch)
		}
	}
}

func TestGetOrIssueCredential(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	first, err := central.GetOrIssueCredential(id, CredentialSourceLogin)
	require.NoError(t, err)
	assert.Equal(t, id, first.IdentityID)
	assert.True(t, first.IsValid(time.Now()))

	// A second login re-uses the still-valid credential
	second, err := central.GetOrIssueCredential(id, CredentialSourceLogin)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Value, second.Value)

	all, err := credDB.FindCredentialsByOwner(id)
	require.NoError(t, err)
	assert.Equal(t, 1, len(all))
}

func TestCredentialUniquenessUnderConcurrency(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := central.GetOrIssueCredential(id, CredentialSourceLogin)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := credDB.FindCredentialsByOwner(id)
	require.NoError(t, err)
	now := time.Now()
	validCount := 0
	for _, c := range all {
		if c.IsValid(now) {
			validCount++
		}
	}
	assert.Equal(t, 1, validCount, "at most one simultaneously valid credential per identity")
}

func TestRenewIfNeededIdempotence(t *testing.T) {
	central, store, _, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	cred, err := central.GetOrIssueCredential(id, CredentialSourceLogin)
	require.NoError(t, err)

	again, err := central.RenewIfNeeded(cred)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, again.ID)

	andAgain, err := central.RenewIfNeeded(again)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, andAgain.ID)
}

func TestRenewIfNeededReplacesExpired(t *testing.T) {
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

	fresh, err := central.RenewIfNeeded(expired)
	require.NoError(t, err)
	assert.NotEqual(t, expired.ID, fresh.ID)
	assert.Equal(t, CredentialSourceRenewal, fresh.Source)
	assert.True(t, fresh.ExpiresAt.After(time.Now().Add(central.CredentialExpiresAfter-time.Minute)))

	all, err := credDB.FindCredentialsByOwner(id)
	require.NoError(t, err)
	for _, c := range all {
		if c.ID == "cred-old" {
			assert.True(t, c.Revoked, "the expired credential is soft-revoked, not deleted")
			assert.Equal(t, "expired", c.RevokeReason)
		}
	}
	assert.Equal(t, 2, len(all), "the old row is kept for audit")
}

func TestRenewIfNeededRacingReads(t *testing.T) {
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

	// Two requests both read the same expired credential before either renews
	copy1, err := credDB.FindCredentialByValue(expired.Value)
	require.NoError(t, err)
	copy2, err := credDB.FindCredentialByValue(expired.Value)
	require.NoError(t, err)

	first, err := central.RenewIfNeeded(copy1)
	require.NoError(t, err)
	second, err := central.RenewIfNeeded(copy2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "the loser adopts the winner's replacement")

	all, err := credDB.FindCredentialsByOwner(id)
	require.NoError(t, err)
	now := time.Now()
	validCount := 0
	for _, c := range all {
		if c.IsValid(now) {
			validCount++
		}
	}
	assert.Equal(t, 1, validCount, "at most one simultaneously valid credential per identity")
}

func TestRevokeIdempotent(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	cred, err := central.GetOrIssueCredential(id, CredentialSourceLogin)
	require.NoError(t, err)
	require.NoError(t, central.RevokeCredential(cred, "logout"))
	require.NoError(t, central.RevokeCredential(cred, "other reason"))

	stored, err := credDB.FindCredentialByValue(cred.Value)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)
	assert.Equal(t, "logout", stored.RevokeReason, "the original revocation reason is kept")
}

func TestFindValidFlagsDuplicates(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	older := &AccessCredential{
		ID: "dup-old", Value: generateCredentialValue(), IdentityID: id,
		IssuedAt: time.Now().Add(-2 * time.Hour), ExpiresAt: time.Now().Add(time.Hour),
	}
	newer := &AccessCredential{
		ID: "dup-new", Value: generateCredentialValue(), IdentityID: id,
		IssuedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, credDB.Save(older))
	require.NoError(t, credDB.Save(newer))

	var winner *AccessCredential
	err = credDB.WithTransaction(func(tx CredentialTx) error {
		var inner error
		winner, inner = central.FindValidCredential(tx, id)
		return inner
	})
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, "dup-new", winner.ID, "the most recently issued credential wins")

	loser, err := credDB.FindCredentialByValue(older.Value)
	require.NoError(t, err)
	assert.True(t, loser.Revoked, "duplicates are flagged, not silently ignored")
	assert.Equal(t, "duplicate", loser.RevokeReason)
}

func TestTransactionRollbackPersistsNothing(t *testing.T) {
	central, store, credDB, _ := NewCentralDummy("")
	defer central.Close()
	id, err := store.CreateIdentity("jim@example.com", "jim", "hunter2")
	require.NoError(t, err)

	boom := NewError(ErrConnect, "simulated abort")
	err = credDB.WithTransaction(func(tx CredentialTx) error {
		if _, inner := central.IssueCredential(tx, id, CredentialSourceLogin); inner != nil {
			return inner
		}
		return boom
	})
	require.Error(t, err)

	all, err := credDB.FindCredentialsByOwner(id)
	require.NoError(t, err)
	assert.Equal(t, 0, len(all), "issuance inside an aborted transaction persists nothing")
}
