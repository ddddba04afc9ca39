package authgate

import (
	"testing"
	"time"

	"github.com/IMQS/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuditorFixture(t *testing.T) (*RouteRegistry, *dummyPolicyDB, *SecurityAuditor) {
	registry := NewRouteRegistry()
	policy := newDummyPolicyDB()
	auditor := NewSecurityAuditor(registry, policy, log.New(log.Stdout, true), time.Second)
	return registry, policy, auditor
}

func TestAuditCompleteness(t *testing.T) {
	registry, policy, auditor := newAuditorFixture(t)
	require.NoError(t, registry.Register(NewRouteDescriptor("/a", "GET")))
	require.NoError(t, registry.Register(NewRouteDescriptor("/b", "GET")))
	require.NoError(t, registry.Register(NewRouteDescriptor("/b", "POST")))
	registry.FinishBoot()

	policy.SetRules("/a", []string{"viewer"})

	// 3 transport routes: /a GET, /b GET, /b POST
	record, err := auditor.Audit(3)
	require.NotNil(t, record)
	assert.Equal(t, 2, record.TotalDescriptors)
	assert.Equal(t, 1, record.TotalSecured)
	assert.Equal(t, []string{"/b"}, record.MismatchedPaths)
	assert.False(t, record.Passed())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrAuditUnsecuredRoute.Error())
}

func TestAuditAllSecured(t *testing.T) {
	registry, policy, auditor := newAuditorFixture(t)
	require.NoError(t, registry.Register(NewRouteDescriptor("/a", "GET")))
	require.NoError(t, registry.Register(NewRouteDescriptor("/b", "GET")))
	registry.FinishBoot()

	policy.SetRules("/a", []string{"viewer"})
	policy.SetRules("/b", []string{"viewer", "editor"})

	record, err := auditor.Audit(2)
	require.NoError(t, err)
	assert.True(t, record.Passed())
	assert.Equal(t, 2, record.TotalSecured)
	assert.Equal(t, record, auditor.LastRecord())
}

func TestAuditCountMismatch(t *testing.T) {
	registry, policy, auditor := newAuditorFixture(t)
	require.NoError(t, registry.Register(NewRouteDescriptor("/a", "GET")))
	registry.FinishBoot()
	policy.SetRules("/a", []string{"viewer"})

	// A transport route exists that no descriptor explains
	record, err := auditor.Audit(2)
	require.NotNil(t, record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrAuditCountMismatch.Error())
}

func TestAuditWaitsForReadiness(t *testing.T) {
	registry, policy, _ := newAuditorFixture(t)
	auditor := NewSecurityAuditor(registry, policy, log.New(log.Stdout, true), 30*time.Millisecond)

	// Registry never seals: the audit surfaces a classified timeout, not a panic
	record, err := auditor.Audit(0)
	assert.Nil(t, record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrRegistryNotReady.Error())
}

func TestAuditAfterBootDrift(t *testing.T) {
	registry, policy, auditor := newAuditorFixture(t)
	require.NoError(t, registry.Register(NewRouteDescriptor("/a", "GET")))
	require.NoError(t, registry.Register(NewRouteDescriptor("/b", "GET")))
	registry.FinishBoot()

	policy.SetRules("/a", []string{"viewer"})
	_, err := auditor.Audit(2)
	require.Error(t, err, "/b is unsecured at boot-end")

	// A late-initializing collaborator registers its rule after boot
	policy.SetRules("/b", []string{"editor"})
	record, err := auditor.AuditAfterBoot(2)
	require.NoError(t, err)
	assert.True(t, record.Passed())
}
