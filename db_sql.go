package authgate

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/scrypt"
)

/*
Hash encodings:

Version 1:
65 bytes (1 + 32 + 32).
bytes[0]     = 1
bytes[1:33]  = Salt (32 random bytes)
bytes[33:65] = scrypt-ed hash with parameters N=256 r=8 p=1

Why use such a low parameter (N=256) for scrypt?
This is a balance between server cost and password crackability.
If you decide that you need to raise the N factor, then introduce a new
version of the hash (the only version right now is version 1).
*/

const (
	hashLengthV1 = 65
	scryptN_V1   = 256
)

func verifyPasswordHash(password, hash string) bool {
	block, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	if len(block) != hashLengthV1 {
		return false
	}
	if block[0] != 1 {
		return false
	}
	scrypted, err := scrypt.Key([]byte(password), block[1:33], scryptN_V1, 8, 1, 32)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(block[33:], scrypted) == 1
}

func computePasswordHash(password string) (string, error) {
	cblock := [hashLengthV1]byte{}
	cblock[0] = 1
	if ncrypto, err := rand.Read(cblock[1:33]); ncrypto != 32 || err != nil {
		return "", err
	}
	scrypted, err := scrypt.Key([]byte(password), cblock[1:33], scryptN_V1, 8, 1, 32)
	if err != nil {
		return "", err
	}
	copy(cblock[33:], scrypted)
	return base64.StdEncoding.EncodeToString(cblock[:]), nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlIdentityStore struct {
	db *sql.DB
}

func (x *sqlIdentityStore) FindIdentitiesByLoginKey(key string) ([]*Identity, error) {
	key = CanonicalizeLoginKey(key)
	if key == "" {
		return nil, ErrIdentityEmpty
	}
	rows, err := x.db.Query(
		`SELECT id, email, username, identitytype, archived, locked FROM authidentity
		WHERE (LOWER(email) = $1 OR LOWER(username) = $1) AND archived = false`, key)
	if err != nil {
		return nil, NewError(ErrConnect, err.Error())
	}
	defer rows.Close()
	result := []*Identity{}
	for rows.Next() {
		u, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdentity(row rowScanner) (*Identity, error) {
	var (
		id           int64
		email        sql.NullString
		username     sql.NullString
		identityType sql.NullInt64
		archived     sql.NullBool
		locked       sql.NullBool
	)
	if err := row.Scan(&id, &email, &username, &identityType, &archived, &locked); err != nil {
		if strings.Index(err.Error(), "no rows in result set") != -1 {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return &Identity{
		ID:       IdentityID(id),
		Email:    email.String,
		Username: username.String,
		Type:     IdentityType(identityType.Int64),
		Archived: archived.Bool,
		Locked:   locked.Bool,
	}, nil
}

func (x *sqlIdentityStore) VerifyPassword(id IdentityID, password string) error {
	row := x.db.QueryRow(`SELECT pwdhash FROM authidentity WHERE id = $1 AND archived = false`, id)
	dbHash := ""
	if err := row.Scan(&dbHash); err != nil {
		return ErrIdentityNotFound
	}
	if verifyPasswordHash(password, dbHash) {
		return nil
	}
	return ErrInvalidPassword
}

func (x *sqlIdentityStore) GetIdentity(id IdentityID) (*Identity, error) {
	row := x.db.QueryRow(`SELECT id, email, username, identitytype, archived, locked FROM authidentity WHERE id = $1`, id)
	return scanIdentity(row)
}

// CreateIdentity inserts a new identity with a locally stored password hash.
func (x *sqlIdentityStore) CreateIdentity(email, username, password string, identityType IdentityType) (IdentityID, error) {
	if strings.TrimSpace(email) == "" && strings.TrimSpace(username) == "" {
		return NullIdentityID, ErrIdentityEmpty
	}
	hash := ""
	if identityType == IdentityTypeLocal {
		var err error
		if hash, err = computePasswordHash(password); err != nil {
			return NullIdentityID, err
		}
	}
	var id int64
	err := x.db.QueryRow(
		`INSERT INTO authidentity (email, username, pwdhash, identitytype, archived, locked)
		VALUES ($1, $2, $3, $4, false, false) RETURNING id`,
		email, username, hash, identityType).Scan(&id)
	if err != nil {
		return NullIdentityID, err
	}
	return IdentityID(id), nil
}

func (x *sqlIdentityStore) Close() {
	// The *sql.DB handle is shared with the other stores; Central closes it.
	x.db = nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlCredentialDB struct {
	db *sql.DB
}

type sqlCredentialTx struct {
	tx *sql.Tx
}

const credentialColumns = `id, value, identityid, issuedat, expiresat, lastusedat, source, revoked, revokereason`

func scanCredential(row rowScanner) (*AccessCredential, error) {
	var (
		cred         AccessCredential
		source       string
		revokeReason sql.NullString
		lastUsed     sql.NullTime
	)
	err := row.Scan(&cred.ID, &cred.Value, &cred.IdentityID, &cred.IssuedAt, &cred.ExpiresAt, &lastUsed, &source, &cred.Revoked, &revokeReason)
	if err != nil {
		if strings.Index(err.Error(), "no rows in result set") != -1 {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	cred.Source = CredentialSource(source)
	cred.RevokeReason = revokeReason.String
	cred.LastUsedAt = lastUsed.Time
	return &cred, nil
}

type sqlQueryable interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func findCredentialsByOwner(q sqlQueryable, id IdentityID) ([]*AccessCredential, error) {
	rows, err := q.Query(`SELECT `+credentialColumns+` FROM authcredential WHERE identityid = $1 ORDER BY issuedat DESC`, id)
	if err != nil {
		return nil, NewError(ErrConnect, err.Error())
	}
	defer rows.Close()
	result := []*AccessCredential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cred)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func saveCredential(q sqlQueryable, cred *AccessCredential) error {
	_, err := q.Exec(
		`INSERT INTO authcredential (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			lastusedat = EXCLUDED.lastusedat,
			revoked = EXCLUDED.revoked,
			revokereason = EXCLUDED.revokereason`,
		cred.ID, cred.Value, cred.IdentityID, cred.IssuedAt.UTC(), cred.ExpiresAt.UTC(), cred.LastUsedAt.UTC(),
		string(cred.Source), cred.Revoked, cred.RevokeReason)
	return err
}

func (x *sqlCredentialDB) FindCredentialsByOwner(id IdentityID) ([]*AccessCredential, error) {
	return findCredentialsByOwner(x.db, id)
}

func (x *sqlCredentialDB) Save(cred *AccessCredential) error {
	return saveCredential(x.db, cred)
}

func (x *sqlCredentialDB) FindCredentialByValue(value string) (*AccessCredential, error) {
	row := x.db.QueryRow(`SELECT `+credentialColumns+` FROM authcredential WHERE value = $1`, value)
	return scanCredential(row)
}

func (x *sqlCredentialDB) TouchLastUsed(id string) error {
	_, err := x.db.Exec(`UPDATE authcredential SET lastusedat = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// WithTransaction runs the block inside one database transaction. An error
// from the block rolls back everything the block did, so an aborted issuance
// persists nothing.
func (x *sqlCredentialDB) WithTransaction(block func(tx CredentialTx) error) error {
	tx, err := x.db.Begin()
	if err != nil {
		return NewError(ErrConnect, err.Error())
	}
	if err := block(&sqlCredentialTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (x *sqlCredentialDB) Close() {
	x.db = nil
}

func (x *sqlCredentialTx) FindCredentialsByOwner(id IdentityID) ([]*AccessCredential, error) {
	return findCredentialsByOwner(x.tx, id)
}

func (x *sqlCredentialTx) Save(cred *AccessCredential) error {
	return saveCredential(x.tx, cred)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlPolicyDB struct {
	db *sql.DB
}

func (x *sqlPolicyDB) RulesFor(path string) ([]string, error) {
	rows, err := x.db.Query(`SELECT rulename FROM authroutepolicy WHERE path = $1`, NormalizeRoutePath(path))
	if err != nil {
		return nil, NewError(ErrConnect, err.Error())
	}
	defer rows.Close()
	rules := []string{}
	for rows.Next() {
		var rule string
		if err := rows.Scan(&rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

func (x *sqlPolicyDB) Close() {
	x.db = nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

func NewIdentityStoreDB_SQL(db *sql.DB) (IdentityStore, error) {
	return &sqlIdentityStore{db: db}, nil
}

func NewCredentialDB_SQL(db *sql.DB) (CredentialDB, error) {
	return &sqlCredentialDB{db: db}, nil
}

func NewPolicyDB_SQL(db *sql.DB) (PolicyDB, error) {
	return &sqlPolicyDB{db: db}, nil
}
