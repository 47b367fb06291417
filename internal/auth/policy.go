package auth

import (
	"context"
	"fmt"
)

// Action names a requested operation evaluated by the policy engine.
type Action string

// Actions evaluated by the policy engine.
const (
	ActionCreateAccount    Action = "account:create"
	ActionModifyHandle     Action = "account:modify_handle"
	ActionModifyProfile    Action = "account:modify_profile"
	ActionDeleteAccount    Action = "account:delete"
	ActionAddMembership    Action = "membership:add"
	ActionRemoveMembership Action = "membership:remove"
	ActionSearchAccounts   Action = "account:search"
	ActionModifyOrg        Action = "org:modify"
	ActionDeleteOrg        Action = "org:delete"
)

// Decision is the outcome of a policy evaluation. Reason is written to the
// internal audit log only; callers surface a single generic forbidden
// signal so denials never leak the existence or role of the target.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// DeleteMode is the outcome of a delete evaluation on an account target.
type DeleteMode int

const (
	// DeleteDenied rejects the deletion outright.
	DeleteDenied DeleteMode = iota

	// DeleteFull removes the account and everything it owns.
	DeleteFull

	// DeleteMembership removes only the actor's organisation membership.
	// Applies when an org-scoped actor deletes a multi-org client; the
	// account survives in its remaining organisations.
	DeleteMembership
)

// orgManagedRoles are the target roles an org_admin may manage within its
// own organisation.
var orgManagedRoles = map[Role]bool{
	RoleOrgAdmin:   true,
	RoleOrgClient:  true,
	RoleOrgSales:   true,
	RoleOrgBuilder: true,
}

// Policy evaluates whether an actor may perform an action on a target,
// given role and organisation-membership facts. It holds no mutable state;
// membership lookups go to the store at decision time.
type Policy struct {
	memberships MembershipRepository
}

// NewPolicy creates a policy engine over the given membership store.
func NewPolicy(memberships MembershipRepository) *Policy {
	return &Policy{memberships: memberships}
}

// CanCreateAccount decides whether the actor may create an account of the
// given role affiliated with the given organisation.
//
// System admins may create any role except basic, and may not pair the
// admin role with an organisation. Org admins create any non-admin role
// within their own organisation. Sales and builder roles create only
// org_client accounts, inheriting their own organisation. An empty orgID
// from an org-scoped actor inherits the actor's organisation.
func (p *Policy) CanCreateAccount(actor *Account, newRole Role, orgID string) Decision {
	switch actor.Role {
	case RoleAdmin:
		if newRole == RoleBasic {
			return deny("admin may not create unprivileged accounts")
		}
		if newRole == RoleAdmin && orgID != "" {
			return deny("admin accounts cannot carry an organization")
		}
		if newRole != RoleAdmin && orgID == "" {
			return deny("creating role %s requires an organization", newRole)
		}
		return allow()

	case RoleOrgAdmin:
		if !orgManagedRoles[newRole] {
			return deny("org_admin may not create role %s", newRole)
		}
		if orgID != "" && orgID != actor.OrgID {
			return deny("org_admin may only create accounts in its own organization")
		}
		return allow()

	case RoleOrgSales, RoleOrgBuilder:
		if newRole != RoleOrgClient {
			return deny("role %s may only create org_client accounts", actor.Role)
		}
		if orgID != "" && orgID != actor.OrgID {
			return deny("role %s may only create accounts in its own organization", actor.Role)
		}
		return allow()

	default:
		return deny("role %s has no account creation capability", actor.Role)
	}
}

// InheritedOrgID resolves the organisation a created account ends up in.
// Org-scoped actors always place new accounts in their own organisation.
func (p *Policy) InheritedOrgID(actor *Account, requestedOrgID string) string {
	if IsOrgScoped(actor.Role) {
		return actor.OrgID
	}
	return requestedOrgID
}

// CanModifyAccount decides whether the actor may change the target's
// handle or profile fields.
//
// The evaluation follows a fixed order: system admins pass unconditionally;
// org admins pass for org-managed roles subject to same-organisation
// scoping; everyone else is denied. A multi-org client belonging to more
// than one organisation may only be modified by a system admin, since no
// single organisation could authorise the edit.
func (p *Policy) CanModifyAccount(ctx context.Context, actor, target *Account, action Action) (Decision, error) {
	if actor.Role == RoleAdmin {
		return allow(), nil
	}

	if actor.Role != RoleOrgAdmin {
		return deny("role %s may not perform %s", actor.Role, action), nil
	}

	if !orgManagedRoles[target.Role] {
		return deny("org_admin may not act on role %s", target.Role), nil
	}

	if target.Role == RoleOrgClient {
		count, err := p.memberships.CountForAccount(ctx, target.ID)
		if err != nil {
			return Decision{}, err
		}
		if count > 1 {
			return deny("target belongs to %d organizations; only membership changes allowed", count), nil
		}
	}

	return p.sameOrgScope(ctx, actor, target)
}

// DecideDelete evaluates a delete request on an account target.
//
// System admins delete anyone except themselves. Any non-admin account may
// delete itself. Org admins delete org-managed roles within their own
// organisation; deleting a multi-org client degrades to removing the
// actor's organisation membership, leaving the account alive elsewhere.
func (p *Policy) DecideDelete(ctx context.Context, actor, target *Account) (DeleteMode, Decision, error) {
	if actor.Role == RoleAdmin {
		if actor.ID == target.ID {
			return DeleteDenied, deny("admin may not delete its own account"), nil
		}
		return DeleteFull, allow(), nil
	}

	if actor.ID == target.ID {
		return DeleteFull, allow(), nil
	}

	if actor.Role != RoleOrgAdmin {
		return DeleteDenied, deny("role %s may not delete accounts", actor.Role), nil
	}

	if !orgManagedRoles[target.Role] {
		return DeleteDenied, deny("org_admin may not delete role %s", target.Role), nil
	}

	scoped, err := p.sameOrgScope(ctx, actor, target)
	if err != nil {
		return DeleteDenied, Decision{}, err
	}
	if !scoped.Allowed {
		return DeleteDenied, scoped, nil
	}

	if target.Role == RoleOrgClient {
		count, err := p.memberships.CountForAccount(ctx, target.ID)
		if err != nil {
			return DeleteDenied, Decision{}, err
		}
		if count > 1 {
			return DeleteMembership, allow(), nil
		}
	}

	return DeleteFull, allow(), nil
}

// CanManageMembership decides whether the actor may add or remove the
// target's membership in the given organisation.
func (p *Policy) CanManageMembership(ctx context.Context, actor *Account, target *Account, orgID string) (Decision, error) {
	if target.Role != RoleOrgClient {
		return deny("role %s does not use organization memberships", target.Role), nil
	}

	switch actor.Role {
	case RoleAdmin:
		return allow(), nil
	case RoleOrgAdmin, RoleOrgSales, RoleOrgBuilder:
		if orgID != actor.OrgID {
			return deny("org-scoped actor may only manage memberships of its own organization"), nil
		}
		return allow(), nil
	default:
		return deny("role %s may not manage memberships", actor.Role), nil
	}
}

// CanSearchAccounts reports whether the actor may run account searches at
// all. Result visibility is filtered afterwards by FilterSearch.
func (p *Policy) CanSearchAccounts(actor *Account) Decision {
	switch actor.Role {
	case RoleAdmin, RoleOrgAdmin, RoleOrgSales, RoleOrgBuilder:
		return allow()
	default:
		return deny("role %s may not search accounts", actor.Role)
	}
}

// FilterSearch reduces raw search matches to what the actor may see.
// System admins see everything. Org-scoped actors see matches whose
// organisation affiliation intersects their own; sales and builder roles
// additionally see only org_client matches.
func (p *Policy) FilterSearch(ctx context.Context, actor *Account, matches []Account) ([]Account, error) {
	if actor.Role == RoleAdmin {
		return matches, nil
	}

	clientsOnly := actor.Role == RoleOrgSales || actor.Role == RoleOrgBuilder

	visible := []Account{}
	for i := range matches {
		target := &matches[i]
		if clientsOnly && target.Role != RoleOrgClient {
			continue
		}
		scoped, err := p.sameOrgScope(ctx, actor, target)
		if err != nil {
			return nil, err
		}
		if scoped.Allowed {
			visible = append(visible, *target)
		}
	}

	return visible, nil
}

// CanManageOrg decides organisation-level mutations. System admins manage
// any organisation; org admins may rename their own; deletion is admin
// only.
func (p *Policy) CanManageOrg(actor *Account, orgID string, action Action) Decision {
	if actor.Role == RoleAdmin {
		return allow()
	}
	if action == ActionModifyOrg && actor.Role == RoleOrgAdmin && actor.OrgID == orgID {
		return allow()
	}
	return deny("role %s may not perform %s on organization %s", actor.Role, action, orgID)
}

// sameOrgScope requires the actor's organisation to match the target's.
// For multi-org clients the actor's organisation must be in the target's
// membership set; for single-affiliation roles the org IDs must be equal.
func (p *Policy) sameOrgScope(ctx context.Context, actor, target *Account) (Decision, error) {
	if actor.OrgID == "" {
		return deny("actor has no organization"), nil
	}

	if target.Role == RoleOrgClient {
		member, err := p.memberships.IsMember(ctx, actor.OrgID, target.ID)
		if err != nil {
			return Decision{}, err
		}
		if !member {
			return deny("target is not a member of the actor's organization"), nil
		}
		return allow(), nil
	}

	if target.OrgID != actor.OrgID {
		return deny("target belongs to a different organization"), nil
	}
	return allow(), nil
}
