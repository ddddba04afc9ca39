package authgate

// NewCentralDummy returns a Central backed entirely by in-memory stores,
// along with the stores themselves so a test can seed identities, flip lock
// flags and inject policy rules directly.
func NewCentralDummy(logfile string) (*Central, *dummyIdentityStore, *dummyCredentialDB, *dummyPolicyDB) {
	identityStore := newDummyIdentityStore()
	credentialDB := newDummyCredentialDB()
	policyDB := newDummyPolicyDB()
	central := NewCentral(logfile, identityStore, credentialDB, policyDB, nil)
	return central, identityStore, credentialDB, policyDB
}
