package authgate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
)

/*

Example config:

{
	"HTTP": {
		"CookieName":	"credential",
		"CookieSecure":	true,
		"Port":			8080,
		"Bind":			"127.0.0.1",
		"LoginPath":	"/login",
		"ErrorPath":	"/error"
	},
	"DB": {
		"Driver":	"postgres",
		"Host":		"auth.example.com",
		"Database":	"authgate",
		"User":		"jim",
		"Password":	"123",
		"SSL":		true
	},
	"Credential": {
		"ExpirySeconds": 1209600
	},
	"Audit": {
		"Strict": false
	}
}

*/

// DBConnection are the parameters for connecting to the shared Postgres
// database behind the identity, credential and policy stores.
type DBConnection struct {
	Driver   string
	Host     string
	Port     uint16
	Database string
	User     string
	Password string
	SSL      bool
}

func (x *DBConnection) Connect() (*sql.DB, error) {
	return sql.Open(x.Driver, x.ConnectionString())
}

func (x *DBConnection) ConnectionString() string {
	sslmode := "disable"
	if x.SSL {
		sslmode = "require"
	}
	conStr := fmt.Sprintf("host=%v user=%v password=%v dbname=%v sslmode=%v", x.Host, x.User, x.Password, x.Database, sslmode)
	if x.Port != 0 {
		conStr += fmt.Sprintf(" port=%v", x.Port)
	}
	return conStr
}

type ConfigHTTP struct {
	CookieName   string
	CookieSecure bool
	CookieDomain string
	Port         int
	Bind         string
	Debug        bool
	LoginPath    string // Page-type failures redirect here on 401/403
	ErrorPath    string // Other page-type failures redirect here with ?request_id=
}

type ConfigCredential struct {
	ExpirySeconds  int
	MinTokenLength int
}

type ConfigHistory struct {
	MaxEntries int
}

type ConfigAudit struct {
	Strict              bool
	ReadyTimeoutSeconds int
}

type ConfigLog struct {
	Filename string
}

type Config struct {
	HTTP       ConfigHTTP
	DB         DBConnection
	Credential ConfigCredential
	History    ConfigHistory
	Audit      ConfigAudit
	LDAP       ConfigLDAP
	Log        ConfigLog
}

func (x *Config) Reset() {
	*x = Config{}
	x.HTTP.CookieName = "credential"
	x.HTTP.Bind = "127.0.0.1"
	x.HTTP.Port = 8080
	x.HTTP.LoginPath = "/login"
	x.HTTP.ErrorPath = "/error"
	x.DB.Driver = "postgres"
	x.Credential.ExpirySeconds = DefaultCredentialExpirySeconds
	x.Credential.MinTokenLength = DefaultMinCredentialLength
	x.History.MaxEntries = DefaultHistoryCapacity
}

func (x *Config) LoadFile(filename string) error {
	x.Reset()
	all, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(all, x); err != nil {
		return err
	}
	return nil
}
