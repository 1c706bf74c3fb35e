// Package entitlement implements the subscription entitlement core for the
// SwiftSale desktop client: the tier catalog, the per-account transition
// state machine, optimistic-concurrency stores, payment authorization, and
// self-contained entitlement tokens with a fail-closed authorization gate.
//
// The service is the only component that mutates accounts, and every
// mutation goes through the store's compare-and-set primitive. Concurrent
// requests for the same account race on the row version: exactly one wins,
// the others are retried from a fresh read and, past the retry budget,
// surface ErrContention to the caller.
//
// Tokens are short-lived HS256 JWTs derived from the account row at issue
// time. The Gate validates them locally, so gated client actions (annotate,
// CSV export) never block on the network.
package entitlement
