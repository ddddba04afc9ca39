package authgate

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// IdentityType distinguishes identities whose passwords we store ourselves
// from identities verified against an external directory.
type IdentityType int

const (
	IdentityTypeLocal IdentityType = iota
	IdentityTypeDirectory
)

// Identity is the record of a human user capable of authenticating.
type Identity struct {
	ID       IdentityID
	Email    string
	Username string
	Type     IdentityType
	Archived bool
	Locked   bool
}

// CanLogin reports whether the identity is in a state that permits
// authentication and credential renewal.
func (u *Identity) CanLogin() bool {
	return !u.Archived && !u.Locked
}

// LoginKey returns the preferred presentation key for this identity.
// Directory identities prefer the username, local identities the email.
func (u *Identity) LoginKey() string {
	if u.Type == IdentityTypeDirectory && u.Username != "" {
		return u.Username
	}
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}

// Summary returns the safe public projection of the identity.
func (u *Identity) Summary() IdentitySummary {
	return IdentitySummary{ID: u.ID, Email: u.Email, Username: u.Username}
}

// IdentitySummary is what we are willing to show the outside world about an
// identity. Never carries password or lock bookkeeping.
type IdentitySummary struct {
	ID       IdentityID `json:"id"`
	Email    string     `json:"email"`
	Username string     `json:"username"`
}

// CanonicalizeLoginKey transforms a login key into its canonical form. Any two
// keys are considered equal if their canonical forms are equal. This is simply
// a lower-casing plus whitespace trim, so that "bob@enterprise.com" is equal
// to "Bob@enterprise.com".
func CanonicalizeLoginKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}

// IdentityStore resolves login keys to identities and verifies passwords.
type IdentityStore interface {
	// FindIdentitiesByLoginKey returns every non-archived identity whose email
	// or username matches the canonicalized key. More than one result is a
	// data anomaly the caller must handle, not a normal outcome.
	FindIdentitiesByLoginKey(key string) ([]*Identity, error)
	// VerifyPassword returns nil if the password matches the stored hash,
	// otherwise ErrInvalidPassword or ErrIdentityNotFound.
	VerifyPassword(id IdentityID, password string) error
	GetIdentity(id IdentityID) (*Identity, error)
	Close()
}

// CredentialTx is the set of credential operations available inside a
// transaction.
type CredentialTx interface {
	FindCredentialsByOwner(id IdentityID) ([]*AccessCredential, error)
	Save(cred *AccessCredential) error
}

// CredentialDB stores access credentials. Writes that must be atomic with a
// preceding read go through WithTransaction; nothing done inside an aborted
// transaction is persisted.
type CredentialDB interface {
	CredentialTx
	FindCredentialByValue(value string) (*AccessCredential, error)
	TouchLastUsed(id string) error
	WithTransaction(block func(tx CredentialTx) error) error
	Close()
}

// PolicyDB is the read-only view onto the external authorization-rule engine.
// Only the security auditor consumes it; this subsystem never mutates it.
type PolicyDB interface {
	RulesFor(path string) ([]string, error)
	Close()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Identity store that simply keeps identities and passwords in memory
type dummyIdentityStore struct {
	identities     map[IdentityID]*Identity
	passwords      map[IdentityID]string
	nextID         IdentityID
	identitiesLock sync.RWMutex
}

func newDummyIdentityStore() *dummyIdentityStore {
	s := &dummyIdentityStore{}
	s.identities = make(map[IdentityID]*Identity)
	s.passwords = make(map[IdentityID]string)
	s.nextID = 1
	return s
}

// CreateIdentity registers a new identity. Duplicate login keys are allowed
// here on purpose, so that tests can provoke the ambiguous-identity path.
func (x *dummyIdentityStore) CreateIdentity(email, username, password string) (IdentityID, error) {
	x.identitiesLock.Lock()
	defer x.identitiesLock.Unlock()
	if strings.TrimSpace(email) == "" && strings.TrimSpace(username) == "" {
		return NullIdentityID, ErrIdentityEmpty
	}
	id := x.nextID
	x.nextID++
	x.identities[id] = &Identity{ID: id, Email: email, Username: username}
	x.passwords[id] = password
	return id, nil
}

func (x *dummyIdentityStore) FindIdentitiesByLoginKey(key string) ([]*Identity, error) {
	key = CanonicalizeLoginKey(key)
	if key == "" {
		return nil, ErrIdentityEmpty
	}
	x.identitiesLock.RLock()
	defer x.identitiesLock.RUnlock()
	matches := []*Identity{}
	for _, u := range x.identities {
		if u.Archived {
			continue
		}
		if CanonicalizeLoginKey(u.Email) == key || CanonicalizeLoginKey(u.Username) == key {
			matches = append(matches, u)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (x *dummyIdentityStore) VerifyPassword(id IdentityID, password string) error {
	x.identitiesLock.RLock()
	defer x.identitiesLock.RUnlock()
	truth, exists := x.passwords[id]
	if !exists {
		return ErrIdentityNotFound
	}
	if truth != password {
		return ErrInvalidPassword
	}
	return nil
}

func (x *dummyIdentityStore) GetIdentity(id IdentityID) (*Identity, error) {
	x.identitiesLock.RLock()
	defer x.identitiesLock.RUnlock()
	u, exists := x.identities[id]
	if !exists {
		return nil, ErrIdentityNotFound
	}
	return u, nil
}

func (x *dummyIdentityStore) SetLocked(id IdentityID, locked bool) {
	x.identitiesLock.Lock()
	if u, exists := x.identities[id]; exists {
		u.Locked = locked
	}
	x.identitiesLock.Unlock()
}

func (x *dummyIdentityStore) SetArchived(id IdentityID, archived bool) {
	x.identitiesLock.Lock()
	if u, exists := x.identities[id]; exists {
		u.Archived = archived
	}
	x.identitiesLock.Unlock()
}

func (x *dummyIdentityStore) Close() {
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Credential database that simply stores credentials in memory
type dummyCredentialDB struct {
	credentials     map[string]*AccessCredential // keyed by credential ID
	byValue         map[string]string            // value -> credential ID
	credentialsLock sync.Mutex
}

func newDummyCredentialDB() *dummyCredentialDB {
	db := &dummyCredentialDB{}
	db.credentials = make(map[string]*AccessCredential)
	db.byValue = make(map[string]string)
	return db
}

func (x *dummyCredentialDB) FindCredentialsByOwner(id IdentityID) ([]*AccessCredential, error) {
	x.credentialsLock.Lock()
	defer x.credentialsLock.Unlock()
	return x.findByOwnerLocked(id), nil
}

// Assume that credentialsLock is held
func (x *dummyCredentialDB) findByOwnerLocked(id IdentityID) []*AccessCredential {
	result := []*AccessCredential{}
	for _, c := range x.credentials {
		if c.IdentityID == id {
			cpy := *c
			result = append(result, &cpy)
		}
	}
	return result
}

func (x *dummyCredentialDB) Save(cred *AccessCredential) error {
	x.credentialsLock.Lock()
	defer x.credentialsLock.Unlock()
	return x.saveLocked(cred)
}

// Assume that credentialsLock is held
func (x *dummyCredentialDB) saveLocked(cred *AccessCredential) error {
	cpy := *cred
	x.credentials[cred.ID] = &cpy
	x.byValue[cred.Value] = cred.ID
	return nil
}

func (x *dummyCredentialDB) FindCredentialByValue(value string) (*AccessCredential, error) {
	x.credentialsLock.Lock()
	defer x.credentialsLock.Unlock()
	id, exists := x.byValue[value]
	if !exists {
		return nil, ErrInvalidCredential
	}
	cpy := *x.credentials[id]
	return &cpy, nil
}

func (x *dummyCredentialDB) TouchLastUsed(id string) error {
	x.credentialsLock.Lock()
	defer x.credentialsLock.Unlock()
	cred, exists := x.credentials[id]
	if !exists {
		return ErrInvalidCredential
	}
	cred.LastUsedAt = time.Now()
	return nil
}

// WithTransaction serializes all transactional work under the single store
// lock, and discards the block's writes if it returns an error, mimicking a
// real rollback.
func (x *dummyCredentialDB) WithTransaction(block func(tx CredentialTx) error) error {
	x.credentialsLock.Lock()
	defer x.credentialsLock.Unlock()
	tx := &dummyCredentialTx{db: x}
	if err := block(tx); err != nil {
		return err
	}
	for _, cred := range tx.pending {
		if err := x.saveLocked(cred); err != nil {
			return err
		}
	}
	return nil
}

func (x *dummyCredentialDB) Close() {
}

// dummyCredentialTx buffers writes so that an aborted block persists nothing.
type dummyCredentialTx struct {
	db      *dummyCredentialDB
	pending []*AccessCredential
}

func (x *dummyCredentialTx) FindCredentialsByOwner(id IdentityID) ([]*AccessCredential, error) {
	result := x.db.findByOwnerLocked(id)
	// A read inside the transaction must observe the transaction's own writes
	for _, p := range x.pending {
		if p.IdentityID != id {
			continue
		}
		replaced := false
		for i, c := range result {
			if c.ID == p.ID {
				cpy := *p
				result[i] = &cpy
				replaced = true
				break
			}
		}
		if !replaced {
			cpy := *p
			result = append(result, &cpy)
		}
	}
	return result, nil
}

func (x *dummyCredentialTx) Save(cred *AccessCredential) error {
	cpy := *cred
	for i, p := range x.pending {
		if p.ID == cred.ID {
			x.pending[i] = &cpy
			return nil
		}
	}
	x.pending = append(x.pending, &cpy)
	return nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Policy database that is simply a map from path to rule names
type dummyPolicyDB struct {
	rules     map[string][]string
	rulesLock sync.RWMutex
}

func newDummyPolicyDB() *dummyPolicyDB {
	db := &dummyPolicyDB{}
	db.rules = make(map[string][]string)
	return db
}

func (x *dummyPolicyDB) SetRules(path string, ruleNames []string) {
	x.rulesLock.Lock()
	x.rules[NormalizeRoutePath(path)] = ruleNames
	x.rulesLock.Unlock()
}

func (x *dummyPolicyDB) RulesFor(path string) ([]string, error) {
	x.rulesLock.RLock()
	defer x.rulesLock.RUnlock()
	return x.rules[NormalizeRoutePath(path)], nil
}

func (x *dummyPolicyDB) Close() {
}
