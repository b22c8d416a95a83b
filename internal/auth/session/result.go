package session

import (
	"time"

	"tenantauth/internal/identity"
)

// Outcome classifies an expected result of a session operation.
type Outcome int

const (
	Succeeded Outcome = iota
	// Invalid means the request was malformed.
	Invalid
	// Unauthenticated means the presented credential or token is not usable.
	Unauthenticated
	// Forbidden means the token exists but belongs to someone else.
	Forbidden
	// NoActiveSessions is reported by LogoutAll under LogoutAllRequireActive.
	NoActiveSessions
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Invalid:
		return "invalid"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NoActiveSessions:
		return "no_active_sessions"
	default:
		return "unknown"
	}
}

// Reasons attached to non-successful results. They are for logs and
// metrics, never for clients.
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonMissingToken       = "missing_token"
	ReasonTokenNotFound      = "token_not_found"
	ReasonTokenRevoked       = "token_revoked"
	ReasonTokenExpired       = "token_expired"
	ReasonTokenReused        = "token_reused"
	ReasonPrincipalGone      = "principal_gone"
	ReasonLostRace           = "lost_race"
	ReasonNotOwner           = "not_owner"
	ReasonNoActiveSessions   = "no_active_sessions"
)

// Pair is an access token and the refresh token issued with it. Principal
// is the subject both were issued to.
type Pair struct {
	Principal        identity.Principal
	AccessToken      AccessToken
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Result is the expected outcome of a session operation. Pair is set only
// when Outcome is Succeeded for Login and Rotate. Revoked counts tokens
// revoked by Logout and LogoutAll.
type Result struct {
	Outcome Outcome
	Reason  string
	Pair    *Pair
	Revoked int64
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Outcome == Succeeded }

func fail(o Outcome, reason string) Result { return Result{Outcome: o, Reason: reason} }
