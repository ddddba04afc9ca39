package authgate

import (
	"github.com/mavricknz/ldap"
)

type LdapConnectionMode int

const (
	LdapConnectionModePlainText LdapConnectionMode = iota
	LdapConnectionModeSSL
	LdapConnectionModeTLS
)

var configLdapNameToMode = map[string]LdapConnectionMode{
	"":    LdapConnectionModePlainText,
	"SSL": LdapConnectionModeSSL,
	"TLS": LdapConnectionModeTLS,
}

type ConfigLDAP struct {
	Host       string
	Port       uint16
	Encryption string // "", "TLS", "SSL"
}

// DirectoryVerifier verifies a password against an external directory, for
// identities whose secrets we do not store ourselves.
type DirectoryVerifier interface {
	// Verify returns nil if the password is correct, otherwise ErrInvalidPassword or ErrIdentityNotFound
	Verify(identity *Identity, password string) error
	Close()
}

type ldapVerifier struct {
	con *ldap.LDAPConnection
}

func (x *ldapVerifier) Verify(identity *Identity, password string) error {
	if len(password) == 0 {
		// Many LDAP servers (or AD) will allow an anonymous BIND.
		// A password-less user authenticated against a directory makes no sense here.
		return ErrInvalidPassword
	}
	if err := x.con.Bind(identity.LoginKey(), password); err != nil {
		// The directory does not differentiate 'identity not found' from
		// 'invalid password'. The identity already exists on our side, so we
		// can say the password is invalid.
		return NewError(ErrInvalidPassword, err.Error())
	}
	return nil
}

func (x *ldapVerifier) Close() {
	if x.con != nil {
		x.con.Close()
		x.con = nil
	}
}

func NewDirectoryVerifier_LDAP(config *ConfigLDAP) (DirectoryVerifier, error) {
	con := ldap.NewLDAPConnection(config.Host, config.Port)
	switch configLdapNameToMode[config.Encryption] {
	case LdapConnectionModePlainText:
	case LdapConnectionModeSSL:
		con.IsSSL = true
	case LdapConnectionModeTLS:
		con.IsTLS = true
	}
	if err := con.Connect(); err != nil {
		con.Close()
		return nil, NewError(ErrConnect, err.Error())
	}
	return &ldapVerifier{con: con}, nil
}
