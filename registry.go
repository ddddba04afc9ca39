package authgate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// AuthTier is the authorization level a route requires. Tiers are ordered:
// when two registrations for the same path disagree, the most restrictive
// tier wins.
type AuthTier int

const (
	AuthTierPublic AuthTier = iota
	AuthTierUser
	AuthTierAdmin
)

func (t AuthTier) String() string {
	switch t {
	case AuthTierPublic:
		return "public"
	case AuthTierUser:
		return "user"
	case AuthTierAdmin:
		return "admin"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ProductKind distinguishes page routes, whose failures redirect, from API
// routes, whose failures return a JSON body.
type ProductKind string

const (
	ProductPage ProductKind = "page"
	ProductAPI  ProductKind = "apiResponse"
)

// RouteDescriptor is registered metadata for one logical HTTP endpoint.
// Descriptors are immutable: the With* builders and Merge return fresh values.
type RouteDescriptor struct {
	FullPath     string
	Methods      []string
	Title        string
	Description  string
	GroupTag     string
	RequiredAuth AuthTier
	Product      ProductKind
}

// NewRouteDescriptor builds a descriptor for one path and method.
func NewRouteDescriptor(fullPath, method string) RouteDescriptor {
	return RouteDescriptor{
		FullPath: NormalizeRoutePath(fullPath),
		Methods:  []string{strings.ToUpper(method)},
		Product:  ProductAPI,
	}
}

func (d RouteDescriptor) WithTitle(title string) RouteDescriptor {
	d.Title = title
	return d
}

func (d RouteDescriptor) WithDescription(desc string) RouteDescriptor {
	d.Description = desc
	return d
}

func (d RouteDescriptor) WithGroupTag(tag string) RouteDescriptor {
	d.GroupTag = tag
	return d
}

func (d RouteDescriptor) WithRequiredAuth(tier AuthTier) RouteDescriptor {
	d.RequiredAuth = tier
	return d
}

func (d RouteDescriptor) WithProduct(kind ProductKind) RouteDescriptor {
	d.Product = kind
	return d
}

// HasMethod reports whether the descriptor serves the given HTTP method.
func (d RouteDescriptor) HasMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range d.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Merge unions two descriptors for the same path: the method sets union, the
// required tier is the most restrictive of the two, and empty metadata fields
// are filled from the other side.
func (d RouteDescriptor) Merge(other RouteDescriptor) RouteDescriptor {
	merged := d
	for _, m := range other.Methods {
		if !merged.HasMethod(m) {
			merged.Methods = append(append([]string{}, merged.Methods...), strings.ToUpper(m))
		}
	}
	sort.Strings(merged.Methods)
	if other.RequiredAuth > merged.RequiredAuth {
		merged.RequiredAuth = other.RequiredAuth
	}
	if merged.Title == "" {
		merged.Title = other.Title
	}
	if merged.Description == "" {
		merged.Description = other.Description
	}
	if merged.GroupTag == "" {
		merged.GroupTag = other.GroupTag
	}
	if other.Product == ProductPage {
		merged.Product = ProductPage
	}
	return merged
}

// NormalizeRoutePath folds a path into the canonical form used for descriptor
// identity: lower case, a single leading slash, no trailing slash.
func NormalizeRoutePath(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

// RouteRegistry holds every registered descriptor, keyed by normalized path.
// It is mutated only during the single-threaded boot phase; after FinishBoot
// it is read-only and lookups take no lock.
type RouteRegistry struct {
	mu          sync.Mutex
	descriptors map[string]*RouteDescriptor
	booted      bool
	ready       chan struct{}
}

func NewRouteRegistry() *RouteRegistry {
	return &RouteRegistry{
		descriptors: make(map[string]*RouteDescriptor),
		ready:       make(chan struct{}),
	}
}

// Register adds a descriptor during the boot phase. Re-registering a path
// unions the method set and auth tier per Merge. Registration after
// FinishBoot is a programming error and is rejected loudly.
func (r *RouteRegistry) Register(d RouteDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.booted {
		return NewError(ErrRegistryClosed, d.FullPath)
	}
	key := NormalizeRoutePath(d.FullPath)
	d.FullPath = key
	if existing, ok := r.descriptors[key]; ok {
		merged := existing.Merge(d)
		r.descriptors[key] = &merged
	} else {
		sort.Strings(d.Methods)
		r.descriptors[key] = &d
	}
	return nil
}

// FinishBoot seals the registry and fires the one-shot readiness signal that
// the auditor waits on.
func (r *RouteRegistry) FinishBoot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.booted {
		return
	}
	r.booted = true
	close(r.ready)
}

// Booted reports whether FinishBoot has run.
func (r *RouteRegistry) Booted() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the registry is sealed, or the timeout lapses, in
// which case it returns a classified error rather than panicking.
func (r *RouteRegistry) WaitReady(timeout time.Duration) error {
	select {
	case <-r.ready:
		return nil
	case <-time.After(timeout):
		return NewError(ErrRegistryNotReady, fmt.Sprintf("after %v", timeout))
	}
}

// Lookup finds the descriptor serving (path, method). The method may be empty
// to match on path alone.
func (r *RouteRegistry) Lookup(path, method string) *RouteDescriptor {
	if !r.Booted() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	d, ok := r.descriptors[NormalizeRoutePath(path)]
	if !ok {
		return nil
	}
	if method != "" && !d.HasMethod(method) {
		return nil
	}
	return d
}

// AllDescriptors returns every descriptor, optionally filtered by group tag,
// ordered by path.
func (r *RouteRegistry) AllDescriptors(groupTag string) []*RouteDescriptor {
	if !r.Booted() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	result := []*RouteDescriptor{}
	for _, d := range r.descriptors {
		if groupTag != "" && d.GroupTag != groupTag {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullPath < result[j].FullPath })
	return result
}

// MethodCount returns the total number of transport route entries implied by
// the registry: one per (path, method) pair.
func (r *RouteRegistry) MethodCount() int {
	count := 0
	for _, d := range r.AllDescriptors("") {
		count += len(d.Methods)
	}
	return count
}
