// Package identity owns tenant-scoped users and credential verification.
//
// A user is identified by (tenant, username); the same username in two
// tenants names two unrelated principals. The Directory authenticates
// credentials and loads principals for the session layer. It never reveals
// whether a failed login was caused by an unknown user or a bad password.
package identity
