package authgate

import (
	"fmt"
	"sync"
	"time"

	"github.com/IMQS/log"
	"github.com/wI2L/jsondiff"
)

// DefaultAuditReadyTimeout bounds how long the auditor waits for the registry
// readiness signal before surfacing a classified error.
const DefaultAuditReadyTimeout = 30 * time.Second

// SecurityAuditRecord is the computed result of one audit run. It is never
// stored; it is recomputed at boot-end and again after boot.
type SecurityAuditRecord struct {
	TotalDescriptors int      `json:"total_descriptors"`
	TotalSecured     int      `json:"total_secured"`
	MismatchedPaths  []string `json:"mismatched_paths"`
}

// Passed reports whether every descriptor carries at least one rule.
func (r *SecurityAuditRecord) Passed() bool {
	return len(r.MismatchedPaths) == 0
}

// SecurityAuditor cross-checks every registered route descriptor against the
// external policy engine. A descriptor is secured iff at least one
// authorization rule resolves for its path.
type SecurityAuditor struct {
	registry    *RouteRegistry
	policy      PolicyDB
	log         *log.Logger
	waitTimeout time.Duration

	lastLock sync.Mutex
	last     *SecurityAuditRecord
}

func NewSecurityAuditor(registry *RouteRegistry, policy PolicyDB, logger *log.Logger, waitTimeout time.Duration) *SecurityAuditor {
	if waitTimeout <= 0 {
		waitTimeout = DefaultAuditReadyTimeout
	}
	return &SecurityAuditor{
		registry:    registry,
		policy:      policy,
		log:         logger,
		waitTimeout: waitTimeout,
	}
}

// Audit walks all descriptors and resolves their rule names from the policy
// engine. transportRouteCount is the raw number of route entries the host
// transport registered; one logical descriptor serving several methods
// produces several transport entries, so the excess must be fully explained
// by the extra-methods sum, otherwise the audit fails with a count-mismatch
// diagnostic rather than silently passing.
//
// Audit waits for the registry readiness signal with a bounded timeout. The
// caller decides whether a failed audit is fatal; by default it is not.
func (a *SecurityAuditor) Audit(transportRouteCount int) (*SecurityAuditRecord, error) {
	if err := a.registry.WaitReady(a.waitTimeout); err != nil {
		return nil, err
	}

	descriptors := a.registry.AllDescriptors("")
	record := &SecurityAuditRecord{
		TotalDescriptors: len(descriptors),
		MismatchedPaths:  []string{},
	}

	extraMethods := 0
	for _, d := range descriptors {
		if len(d.Methods) > 1 {
			extraMethods += len(d.Methods) - 1
		}
		rules, err := a.policy.RulesFor(d.FullPath)
		if err != nil {
			return nil, NewError(ErrConnect, fmt.Sprintf("resolving rules for %v: %v", d.FullPath, err))
		}
		if len(rules) > 0 {
			record.TotalSecured++
		} else {
			record.MismatchedPaths = append(record.MismatchedPaths, d.FullPath)
		}
	}

	a.lastLock.Lock()
	a.last = record
	a.lastLock.Unlock()

	if transportRouteCount != record.TotalDescriptors+extraMethods {
		return record, NewError(ErrAuditCountMismatch,
			fmt.Sprintf("%v transport routes, %v descriptors, %v extra methods", transportRouteCount, record.TotalDescriptors, extraMethods))
	}
	if !record.Passed() {
		return record, NewError(ErrAuditUnsecuredRoute, fmt.Sprintf("%v", record.MismatchedPaths))
	}
	return record, nil
}

// AuditAfterBoot re-runs the audit once route tables are guaranteed stable,
// to catch rules registered asynchronously by late-initializing
// collaborators. Any drift between this run and the previous one is logged as
// a JSON patch.
func (a *SecurityAuditor) AuditAfterBoot(transportRouteCount int) (*SecurityAuditRecord, error) {
	previous := a.LastRecord()
	record, err := a.Audit(transportRouteCount)
	if record != nil && previous != nil {
		patch, diffErr := jsondiff.Compare(previous, record)
		if diffErr != nil {
			a.log.Warnf("Audit drift diff failed: %v", diffErr)
		} else if len(patch) > 0 {
			a.log.Infof("Audit record drifted since boot: %v", patch)
		}
	}
	return record, err
}

// LastRecord returns the record from the most recent audit run, or nil if no
// run has completed.
func (a *SecurityAuditor) LastRecord() *SecurityAuditRecord {
	a.lastLock.Lock()
	defer a.lastLock.Unlock()
	return a.last
}
