package authgate

import (
	"github.com/BurntSushi/migration"
)

// RunMigrations brings the shared database schema up to date.
func RunMigrations(conx *DBConnection) error {
	db, err := migration.Open(conx.Driver, conx.ConnectionString(), createMigrations())
	if err == nil {
		db.Close()
	}
	return err
}

func createMigrations() []migration.Migrator {
	var migrations []migration.Migrator

	text := []string{
		// 1. authidentity
		`CREATE TABLE authidentity (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR,
			username VARCHAR,
			pwdhash VARCHAR,
			identitytype SMALLINT DEFAULT 0,
			archived BOOLEAN DEFAULT FALSE,
			locked BOOLEAN DEFAULT FALSE
		);
		CREATE INDEX idx_authidentity_email ON authidentity (LOWER(email));
		CREATE INDEX idx_authidentity_username ON authidentity (LOWER(username));`,

		// 2. authcredential
		`CREATE TABLE authcredential (
			id VARCHAR PRIMARY KEY,
			value VARCHAR NOT NULL,
			identityid BIGINT NOT NULL,
			issuedat TIMESTAMP NOT NULL,
			expiresat TIMESTAMP NOT NULL,
			lastusedat TIMESTAMP,
			source VARCHAR,
			revoked BOOLEAN DEFAULT FALSE,
			revokereason VARCHAR
		);
		CREATE UNIQUE INDEX idx_authcredential_value ON authcredential (value);
		CREATE INDEX idx_authcredential_identity ON authcredential (identityid);
		CREATE INDEX idx_authcredential_expires ON authcredential (expiresat);`,

		// 3. authroutepolicy
		`CREATE TABLE authroutepolicy (
			id BIGSERIAL PRIMARY KEY,
			path VARCHAR NOT NULL,
			rulename VARCHAR NOT NULL
		);
		CREATE INDEX idx_authroutepolicy_path ON authroutepolicy (path);`,
	}

	for _, src := range text {
		srcCapture := src
		migrations = append(migrations, func(tx migration.LimitedTx) error {
			_, err := tx.Exec(srcCapture)
			return err
		})
	}
	return migrations
}

// SqlCreateDatabase creates the database named in 'conx', if it does not
// already exist.
func SqlCreateDatabase(conx *DBConnection) error {
	// Check first if the database already exists
	if db, eConnect := conx.Connect(); eConnect == nil {
		// The postgres driver will not return an error until we attempt to start a transaction
		if tx, eTxBegin := db.Begin(); eTxBegin == nil {
			tx.Rollback()
			db.Close()
			return nil
		}
		// database does not exist, go ahead and try to create it
		db.Close()
	} else {
		return eConnect
	}
	// Connect via the 'postgres' database
	copy := *conx
	copy.Database = "postgres"
	db, err := copy.Connect()
	if err != nil {
		return err
	}
	defer db.Close()
	_, eExec := db.Exec("CREATE DATABASE \"" + conx.Database + "\"")
	return eExec
}
