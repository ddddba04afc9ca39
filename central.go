package authgate

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IMQS/log"
)

type CentralStats struct {
	InvalidCredentials  uint64
	ExpiredCredentials  uint64
	InvalidPasswords    uint64
	EmptyIdentities     uint64
	AmbiguousIdentities uint64
	GoodLogin           uint64
	Logout              uint64
}

func isPowerOf2(x uint64) bool {
	return 0 == x&(x-1)
}

func (x *CentralStats) IncrementAndLog(name string, val *uint64, logger *log.Logger) {
	n := atomic.AddUint64(val, 1)
	if isPowerOf2(n) || (n&255) == 0 {
		logger.Infof("%v %v", n, name)
	}
}

func (x *CentralStats) IncrementInvalidCredentials(logger *log.Logger) {
	x.IncrementAndLog("invalid credentials", &x.InvalidCredentials, logger)
}

func (x *CentralStats) IncrementExpiredCredentials(logger *log.Logger) {
	x.IncrementAndLog("expired credentials", &x.ExpiredCredentials, logger)
}

func (x *CentralStats) IncrementInvalidPasswords(logger *log.Logger) {
	x.IncrementAndLog("invalid passwords", &x.InvalidPasswords, logger)
}

func (x *CentralStats) IncrementEmptyIdentities(logger *log.Logger) {
	x.IncrementAndLog("empty identities", &x.EmptyIdentities, logger)
}

func (x *CentralStats) IncrementAmbiguousIdentities(logger *log.Logger) {
	x.IncrementAndLog("ambiguous identities", &x.AmbiguousIdentities, logger)
}

func (x *CentralStats) IncrementGoodLogin(logger *log.Logger) {
	x.IncrementAndLog("good login", &x.GoodLogin, logger)
}

func (x *CentralStats) IncrementLogout(logger *log.Logger) {
	x.IncrementAndLog("logout", &x.Logout, logger)
}

/*
For lack of a better name, this is the single hub of authentication that you interact with.
All public methods of Central are callable from multiple threads.
*/
type Central struct {
	// Stats must be first so that we are guaranteed to get it 8-byte aligned. We atomically
	// increment counters inside CentralStats, and the atomic functions need 8-byte alignment
	// on their operands.
	Stats                  CentralStats
	Log                    *log.Logger
	CredentialExpiresAfter time.Duration
	MinCredentialLength    int
	HistoryCapacity        int
	Debug                  bool
	StrictAudit            bool
	Registry               *RouteRegistry
	Auditor                *SecurityAuditor
	DB                     *sql.DB

	identityStore IdentityStore
	credentialDB  CredentialDB
	policyDB      PolicyDB
	directory     DirectoryVerifier

	sessions     map[string]*Session // keyed by credential value
	sessionsLock sync.RWMutex

	// Journal for requests that fail before any session is resolved. It only
	// serves error-page rendering for anonymous clients.
	fallbackHistory *RoutingHistory

	identityLocks     map[IdentityID]*sync.Mutex
	identityLocksLock sync.Mutex

	shuttingDown uint32
}

// NewCentral creates a Central from the specified pieces.
// directory may be nil, in which case all passwords are verified locally.
func NewCentral(logfile string, identityStore IdentityStore, credentialDB CredentialDB, policyDB PolicyDB, directory DirectoryVerifier) *Central {
	c := &Central{}
	c.identityStore = identityStore
	c.credentialDB = credentialDB
	c.policyDB = policyDB
	c.directory = directory
	c.CredentialExpiresAfter = time.Duration(DefaultCredentialExpirySeconds) * time.Second
	c.MinCredentialLength = DefaultMinCredentialLength
	c.HistoryCapacity = DefaultHistoryCapacity
	c.Registry = NewRouteRegistry()
	c.Auditor = NewSecurityAuditor(c.Registry, policyDB, nil, DefaultAuditReadyTimeout)
	c.sessions = make(map[string]*Session)
	c.fallbackHistory = NewRoutingHistory(DefaultHistoryCapacity)
	c.identityLocks = make(map[IdentityID]*sync.Mutex)
	c.Log = log.New(resolveLogfile(logfile), true)
	c.Auditor.log = c.Log
	c.Log.Infof("Authgate successfully started up\n")
	return c
}

// NewCentralFromConfig creates a 'Central' object from a Config.
func NewCentralFromConfig(config *Config) (central *Central, err error) {
	var (
		db            *sql.DB
		identityStore IdentityStore
		credentialDB  CredentialDB
		policyDB      PolicyDB
		directory     DirectoryVerifier
	)
	directoryUsed := len(config.LDAP.Host) > 0

	startupLogger := log.New(resolveLogfile(config.Log.Filename), true)

	defer func() {
		if ePanic := recover(); ePanic != nil {
			if directory != nil {
				directory.Close()
			}
			if identityStore != nil {
				identityStore.Close()
			}
			if credentialDB != nil {
				credentialDB.Close()
			}
			if policyDB != nil {
				policyDB.Close()
			}
			if db != nil {
				db.Close()
			}
			startupLogger.Errorf("Error initializing: %v\n", ePanic)
			err = ePanic.(error)
		}
	}()

	if config.Credential.ExpirySeconds < 0 {
		panic(fmt.Errorf("Credential.ExpirySeconds must be 0 or more"))
	}
	if config.History.MaxEntries < 0 {
		panic(fmt.Errorf("History.MaxEntries must be 0 or more"))
	}

	// All of our store interfaces share the same database, and thus the same
	// schema, so we connect once and hand the same handle to all of them.
	db, err = config.DB.Connect()
	if err != nil {
		panic(fmt.Errorf("Error connecting to DB: %v", err))
	}

	if directoryUsed {
		if directory, err = NewDirectoryVerifier_LDAP(&config.LDAP); err != nil {
			panic(fmt.Errorf("Error connecting to LDAP: %v", err))
		}
	}

	if identityStore, err = NewIdentityStoreDB_SQL(db); err != nil {
		panic(fmt.Errorf("Error connecting to IdentityStoreDB: %v", err))
	}

	if credentialDB, err = NewCredentialDB_SQL(db); err != nil {
		panic(fmt.Errorf("Error connecting to CredentialDB: %v", err))
	}

	if policyDB, err = NewPolicyDB_SQL(db); err != nil {
		panic(fmt.Errorf("Error connecting to PolicyDB: %v", err))
	}

	c := NewCentral(config.Log.Filename, identityStore, credentialDB, policyDB, directory)
	c.DB = db
	c.Debug = config.HTTP.Debug
	c.StrictAudit = config.Audit.Strict
	if config.Credential.ExpirySeconds != 0 {
		c.CredentialExpiresAfter = time.Duration(config.Credential.ExpirySeconds) * time.Second
	}
	if config.Credential.MinTokenLength != 0 {
		c.MinCredentialLength = config.Credential.MinTokenLength
	}
	if config.History.MaxEntries != 0 {
		c.HistoryCapacity = config.History.MaxEntries
		c.fallbackHistory = NewRoutingHistory(c.HistoryCapacity)
	}
	if config.Audit.ReadyTimeoutSeconds > 0 {
		c.Auditor.waitTimeout = time.Duration(config.Audit.ReadyTimeoutSeconds) * time.Second
	}
	startupLogger.Infof("Credentials expire after %v", c.CredentialExpiresAfter)
	if c.StrictAudit {
		startupLogger.Infof("Strict route security auditing is enabled")
	}

	return c, nil
}

func resolveLogfile(logfile string) string {
	if logfile != "" {
		return logfile
	}
	return log.Stdout
}

// identityLock returns the mutex serializing credential issuance for one
// identity.
func (x *Central) identityLock(id IdentityID) *sync.Mutex {
	x.identityLocksLock.Lock()
	defer x.identityLocksLock.Unlock()
	lock, exists := x.identityLocks[id]
	if !exists {
		lock = &sync.Mutex{}
		x.identityLocks[id] = lock
	}
	return lock
}

// StartSession binds a credential to a new session and indexes it by the
// credential's presentation value.
func (x *Central) StartSession(cred *AccessCredential, identity IdentitySummary, source SessionSource) *Session {
	session := NewSession(cred, identity, source)
	x.sessionsLock.Lock()
	x.sessions[cred.Value] = session
	x.sessionsLock.Unlock()
	return session
}

// GetSession returns the live session for a presented credential value, or
// nil when none exists in this process.
func (x *Central) GetSession(credentialValue string) *Session {
	x.sessionsLock.RLock()
	session := x.sessions[credentialValue]
	x.sessionsLock.RUnlock()
	if session != nil && session.TerminatedAt != nil {
		return nil
	}
	return session
}

// HistoryFor returns the routing journal a request should record into: the
// session's own journal when one is resolved, otherwise the shared anonymous
// journal.
func (x *Central) HistoryFor(rc *RequestContext) *RoutingHistory {
	if rc != nil && rc.Session != nil {
		return rc.Session.History(x.HistoryCapacity)
	}
	return x.fallbackHistory
}

// Logout revokes the credential behind a presented value and terminates its
// session. The termination source distinguishes an explicit logout from a
// forced one.
func (x *Central) Logout(credentialValue string, source TerminationSource) error {
	cred, err := x.credentialDB.FindCredentialByValue(credentialValue)
	if err != nil {
		return NewError(ErrInvalidCredential, "logout")
	}
	if err := x.RevokeCredential(cred, string(source)); err != nil {
		x.Log.Errorf("Logout revoke failed (%v) (%v)", cred.ID, err)
		return &ErrorValue{Domain: DomainLogin, Code: CodeLogoutFailed, Reason: "Logout failed", Underlying: AsErrorValue(err)}
	}
	x.sessionsLock.Lock()
	if session, exists := x.sessions[credentialValue]; exists {
		session.Terminate(source, time.Now())
		delete(x.sessions, credentialValue)
	}
	x.sessionsLock.Unlock()
	x.Stats.IncrementLogout(x.Log)
	x.Log.Infof("Logout successful (%v)", cred.IdentityID)
	return nil
}

// KickOut terminates every live session belonging to an identity and revokes
// their credentials.
func (x *Central) KickOut(identity IdentityID) error {
	values := []string{}
	x.sessionsLock.Lock()
	for value, session := range x.sessions {
		if session.Identity.ID == identity {
			session.Terminate(TerminationKickedOut, time.Now())
			values = append(values, value)
		}
	}
	for _, value := range values {
		delete(x.sessions, value)
	}
	x.sessionsLock.Unlock()
	for _, value := range values {
		if cred, err := x.credentialDB.FindCredentialByValue(value); err == nil {
			if err := x.RevokeCredential(cred, string(TerminationKickedOut)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Central) IsShuttingDown() bool {
	return atomic.LoadUint32(&x.shuttingDown) != 0
}

func (x *Central) Close() {
	if x.Log != nil {
		x.Log.Infof("Authgate has started shutting down")
	}
	atomic.StoreUint32(&x.shuttingDown, 1)
	if x.directory != nil {
		x.directory.Close()
		x.directory = nil
	}
	if x.identityStore != nil {
		x.identityStore.Close()
		x.identityStore = nil
	}
	if x.credentialDB != nil {
		x.credentialDB.Close()
		x.credentialDB = nil
	}
	if x.policyDB != nil {
		x.policyDB.Close()
		x.policyDB = nil
	}
	if x.DB != nil {
		x.DB.Close()
	}
	if x.Log != nil {
		x.Log.Infof("Authgate has shut down")
		// Don't set Log to nil, because a background/cleanup goroutine can't be expected to
		// check for x.Log being nil every time before it emits a log message.
	}
}
