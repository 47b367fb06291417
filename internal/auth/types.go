package auth

import (
	"errors"
	"regexp"
	"time"
)

// handlePattern defines the valid format for account handles: an
// email-shaped string with a non-empty local part and a dotted domain.
var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// maxHandleLength is the maximum allowed handle length.
const maxHandleLength = 128

// IsValidHandle checks if a handle meets format requirements.
// Handles must be email-shaped and at most 128 characters.
func IsValidHandle(handle string) bool {
	return len(handle) <= maxHandleLength && handlePattern.MatchString(handle)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleBasic is an unprivileged account with no administrative capability.
	// It exists as the zero tier; nothing in the product provisions it.
	RoleBasic Role = "basic"

	// RoleAdmin is a system administrator. Acts on any account or
	// organisation without scoping, with narrow carve-outs enforced by
	// the policy engine (cannot self-delete, cannot create basic accounts).
	RoleAdmin Role = "admin"

	// RoleOrgAdmin manages all non-admin accounts belonging to its own
	// organisation: creation, profile edits, handle changes, deletion.
	RoleOrgAdmin Role = "org_admin"

	// RoleOrgClient is the one role that may belong to several
	// organisations at once, via the org_memberships join table.
	RoleOrgClient Role = "org_client"

	// RoleOrgSales may only create and search org_client accounts within
	// its own organisation.
	RoleOrgSales Role = "org_sales"

	// RoleOrgBuilder has the same capabilities as org_sales.
	RoleOrgBuilder Role = "org_builder"
)

// ValidRoles is the set of roles an account may carry.
var ValidRoles = []Role{RoleBasic, RoleAdmin, RoleOrgAdmin, RoleOrgClient, RoleOrgSales, RoleOrgBuilder}

// IsValidRole returns true if the role is a recognised account role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// IsOrgScoped returns true for roles whose authority is bounded to their
// own organisation.
func IsOrgScoped(r Role) bool {
	return r == RoleOrgAdmin || r == RoleOrgSales || r == RoleOrgBuilder
}

// Account represents an identity record.
//
// PasswordHash is empty until the account is activated through an
// activation token. OrgID is set for single-affiliation roles (org_admin,
// org_sales, org_builder); org_client affiliation lives in the
// org_memberships join table instead.
type Account struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	Name         string    `json:"name"`
	Surname      string    `json:"surname"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	Activated    bool      `json:"activated"`
	OrgID        string    `json:"org_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Organization represents a tenant that owns accounts.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership represents an org_client account's membership in an organisation.
type Membership struct {
	OrgID     string    `json:"org_id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionToken is the server-side liveness record for one bearer credential.
// The jti embedded in the signed claims points at exactly one row here;
// rotation mutates the row in place with a fresh jti and extended expiry.
type SessionToken struct {
	JTI       string    `json:"jti"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// TokenPurpose distinguishes the two single-use token kinds.
type TokenPurpose string

const (
	// PurposeActivation tokens let a new account set its password and
	// activate. Valid for 24 hours by default.
	PurposeActivation TokenPurpose = "activation"

	// PurposePasswordReset tokens let an account overwrite its password.
	// Valid for 1 hour by default.
	PurposePasswordReset TokenPurpose = "password_reset"
)

// OneTimeToken is a single-use opaque token bound to an account.
// Consumption deletes the row, so a replayed token reads as not found.
type OneTimeToken struct {
	Token     string       `json:"token"`
	AccountID string       `json:"account_id"`
	Purpose   TokenPurpose `json:"purpose"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// LoginAttempt is one append-only row in the attempt log feeding the
// throttle guard.
type LoginAttempt struct {
	ID          int64     `json:"id"`
	Handle      string    `json:"handle"`
	Address     string    `json:"address"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// Identity is the decoded, validated caller identity attached to a request.
type Identity struct {
	AccountID string
	Handle    string
	Role      Role
	JTI       string
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNotActivated = errors.New("account not activated")
	ErrHandleExists        = errors.New("handle already exists")
	ErrOrgNotFound         = errors.New("organization not found")
	ErrOrgNameExists       = errors.New("organization name already exists")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token has expired")
	ErrOneTimeTokenExpired = errors.New("one-time token has expired")
	ErrAccountLocked       = errors.New("account temporarily locked")
	ErrAddressThrottled    = errors.New("too many failed login attempts from this address")
	ErrForbidden           = errors.New("forbidden")
	ErrLastMembership      = errors.New("cannot remove the last organization membership")
	ErrNotMember           = errors.New("account is not a member of this organization")
)
