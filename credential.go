package authgate

import (
	"crypto/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	/* Number of characters from the set [a-zA-Z0-9] = 62. 62^30 = 6 x 10^53, which is 178 bits of entropy.
	Assume there will be 1 million valid credentials. That removes 20 bits of entropy, leaving 158 bits.
	Divide 158 by 2 and we have a security level of 79 bits. If an attacker can try 100000 values per
	second, then it would take 2 * 10^11 years to find a random good value.
	*/
	credentialValueLength = 30

	// DefaultCredentialExpirySeconds is how long a freshly issued credential
	// remains valid, unless overridden in the config.
	DefaultCredentialExpirySeconds = 14 * 24 * 3600

	// DefaultMinCredentialLength is the shortest presented credential value we
	// will even look up. Anything shorter is malformed, not merely invalid.
	DefaultMinCredentialLength = 5
)

// IdentityID is the 64-bit primary key of an identity record.
type IdentityID int64

// NullIdentityID is the zero identity, used when no identity is resolved.
const NullIdentityID = IdentityID(0)

// CredentialSource records why a credential was issued.
type CredentialSource string

const (
	CredentialSourceSignup  CredentialSource = "signup"
	CredentialSourceLogin   CredentialSource = "login"
	CredentialSourceRenewal CredentialSource = "renewal"
	CredentialSourceLegacy  CredentialSource = "legacy"
)

// AccessCredential is an opaque, time-bounded secret bound to exactly one
// identity. Credentials are soft-revoked, never deleted, so that renewal races
// and audit trails remain inspectable.
type AccessCredential struct {
	ID           string
	Value        string
	IdentityID   IdentityID
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastUsedAt   time.Time
	Source       CredentialSource
	Revoked      bool
	RevokeReason string
}

// IsExpired reports whether the credential's lifetime has lapsed at 'now'.
func (c *AccessCredential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsValid reports whether the credential can authenticate a request at 'now'.
func (c *AccessCredential) IsValid(now time.Time) bool {
	return !c.Revoked && now.Before(c.ExpiresAt)
}

// RandomString returns a random string of 'nchars' bytes, sampled uniformly from the given corpus of byte characters.
func RandomString(nchars int, corpus string) string {
	rbytes := make([]byte, nchars)
	rstring := make([]byte, nchars)
	rand.Read(rbytes)
	for i := 0; i < nchars; i++ {
		rstring[i] = corpus[rbytes[i]%byte(len(corpus))]
	}
	return string(rstring)
}

func generateCredentialValue() string {
	// It is important not to have any unusual characters in here, especially an equals sign. Old versions of Tomcat
	// will parse such a cookie incorrectly (imagine Cookie: magic=abracadabra=)
	return RandomString(credentialValueLength, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
}

// IssueCredential creates and persists a fresh credential for 'identity'
// inside the given transaction. The credential only exists once the enclosing
// transaction commits.
func (x *Central) IssueCredential(tx CredentialTx, identity IdentityID, source CredentialSource) (*AccessCredential, error) {
	now := time.Now()
	cred := &AccessCredential{
		ID:         uuid.New().String(),
		Value:      generateCredentialValue(),
		IdentityID: identity,
		IssuedAt:   now,
		ExpiresAt:  now.Add(x.CredentialExpiresAfter),
		LastUsedAt: now,
		Source:     source,
	}
	if err := tx.Save(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// FindValidCredential returns the authoritative valid credential for an
// identity, or nil when none exists. If the store yields more than one valid
// credential, the most recently issued wins, and the others are flagged for
// revocation. Duplicates are a data-integrity anomaly, so we log them rather
// than silently picking one.
func (x *Central) FindValidCredential(tx CredentialTx, identity IdentityID) (*AccessCredential, error) {
	all, err := tx.FindCredentialsByOwner(identity)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	valid := []*AccessCredential{}
	for _, c := range all {
		if c.IsValid(now) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].IssuedAt.After(valid[j].IssuedAt) })
	if len(valid) > 1 {
		x.Log.Warnf("Identity %v has %v simultaneously valid credentials; keeping %v, flagging the rest", identity, len(valid), valid[0].ID)
		for _, dup := range valid[1:] {
			dup.Revoked = true
			dup.RevokeReason = "duplicate"
			if err := tx.Save(dup); err != nil {
				return nil, err
			}
		}
	}
	return valid[0], nil
}

// GetOrIssueCredential returns the identity's valid credential, issuing a new
// one when none exists. The find-then-issue sequence runs as one transactional
// unit, and a per-identity lock serializes concurrent callers, so two
// simultaneous logins cannot both insert unrelated replacements.
func (x *Central) GetOrIssueCredential(identity IdentityID, source CredentialSource) (*AccessCredential, error) {
	lock := x.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	var cred *AccessCredential
	err := x.credentialDB.WithTransaction(func(tx CredentialTx) error {
		existing, err := x.FindValidCredential(tx, identity)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.LastUsedAt = time.Now()
			if err := tx.Save(existing); err != nil {
				return err
			}
			cred = existing
			return nil
		}
		cred, err = x.IssueCredential(tx, identity, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// RenewIfNeeded returns a usable credential for the owner of 'cred'. When the
// owner already holds a valid credential it is returned with its LastUsedAt
// bumped; this includes the caller's own 'cred', and also a replacement minted
// by a concurrent renewal that committed first. Only when no valid credential
// exists is the expired one soft-revoked and replaced, keeping the old row for
// audit. The find-then-issue sequence runs as one transactional unit, so two
// requests that both read the same expired credential cannot each mint a
// replacement.
func (x *Central) RenewIfNeeded(cred *AccessCredential) (*AccessCredential, error) {
	lock := x.identityLock(cred.IdentityID)
	lock.Lock()
	defer lock.Unlock()

	var result *AccessCredential
	err := x.credentialDB.WithTransaction(func(tx CredentialTx) error {
		existing, err := x.FindValidCredential(tx, cred.IdentityID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.LastUsedAt = time.Now()
			if err := tx.Save(existing); err != nil {
				return err
			}
			result = existing
			return nil
		}
		if !cred.Revoked {
			cred.Revoked = true
			cred.RevokeReason = "expired"
			if err := tx.Save(cred); err != nil {
				return err
			}
		}
		fresh, err := x.IssueCredential(tx, cred.IdentityID, CredentialSourceRenewal)
		if err != nil {
			return err
		}
		result = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.ID != cred.ID {
		x.Log.Infof("Credential %v renewed as %v (%v)", cred.ID, result.ID, cred.IdentityID)
	}
	return result, nil
}

// RevokeCredential soft-revokes a credential. Idempotent: revoking an already
// revoked credential keeps the original reason.
func (x *Central) RevokeCredential(cred *AccessCredential, reason string) error {
	return x.credentialDB.WithTransaction(func(tx CredentialTx) error {
		if cred.Revoked {
			return nil
		}
		cred.Revoked = true
		cred.RevokeReason = reason
		return tx.Save(cred)
	})
}
