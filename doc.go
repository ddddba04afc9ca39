/*
Package authgate is the request-identity and route-authorization audit layer
of an HTTP backend.

Authgate brings together the following pluggable components:

	Identity Store		This answers the question "Which identity owns this login key, and is this password correct?"
	Credential Database	This stores opaque access credentials. In other words, this is where the cookies come from.
	Policy Database		This is the read-only view onto the external authorization-rule engine.

Any of these three components can be swapped out. A typical setup is Postgres
for the identity and credential databases, and whatever RBAC engine the host
application runs for the policy database.

Concepts

A Credential is an opaque, time-bounded secret string proving a prior
successful authentication. Credentials are never hard-deleted: expiry and
logout soft-revoke them, keeping the row for audit, and renewal issues a
replacement.

A Session is the live pairing of an identity and its current credential for
one login episode. A session will usually be reconstructed from a cookie or
bearer token on each request.

A RouteDescriptor is metadata registered for one logical endpoint during the
single-threaded boot phase. After boot, the Security Auditor cross-checks
every descriptor against the policy database and reports any endpoint that
carries no authorization rule.

The RoutingHistory is a small per-session journal that lets a request arriving
after a redirect recover the error that caused the redirect, since the
redirect itself carries no body.
*/
package authgate
