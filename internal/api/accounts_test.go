package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nerrad567/gatekeep-core/internal/auth"
)

func TestCreateAccount_Admin(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPost, "/api/v1/accounts", token, map[string]any{
		"handle":  "newadmin@acme.com",
		"name":    "New",
		"surname": "Admin",
		"role":    "org_admin",
		"org_id":  org.ID,
	})
	body := decode(t, resp)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", resp.StatusCode, body)
	}
	if body["activated"] != false {
		t.Error("new account should not be activated")
	}
	if body["org_id"] != org.ID {
		t.Errorf("org_id = %v, want %s", body["org_id"], org.ID)
	}
}

func TestCreateAccount_RoleEscalationDenied(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedAccount(t, env.db, "sales@acme.com", auth.RoleOrgSales, org.ID)
	token := env.login(t, "sales@acme.com")

	// Sales may only create org_client accounts
	resp := env.do(t, http.MethodPost, "/api/v1/accounts", token, map[string]any{
		"handle": "other@acme.com",
		"role":   "org_admin",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestCreateAccount_ForeignOrgDenied(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	seedAccount(t, env.db, "sales@acme.com", auth.RoleOrgSales, orgA.ID)
	token := env.login(t, "sales@acme.com")

	// Naming another organisation is a denial, not a silent redirect into
	// the actor's own organisation.
	resp := env.do(t, http.MethodPost, "/api/v1/accounts", token, map[string]any{
		"handle": "poached@beta.com",
		"role":   "org_client",
		"org_id": orgB.ID,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}

	_, err := auth.NewAccountRepository(env.db).GetByHandle(context.Background(), "poached@beta.com")
	if !errors.Is(err, auth.ErrAccountNotFound) {
		t.Errorf("GetByHandle(denied) error = %v, want ErrAccountNotFound", err)
	}
}

func TestCreateAccount_InheritsActorOrg(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedAccount(t, env.db, "sales@acme.com", auth.RoleOrgSales, org.ID)
	token := env.login(t, "sales@acme.com")

	resp := env.do(t, http.MethodPost, "/api/v1/accounts", token, map[string]any{
		"handle": "client@example.com",
		"role":   "org_client",
	})
	body := decode(t, resp)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", resp.StatusCode, body)
	}

	// Membership landed in the actor's organisation
	accountID, _ := body["id"].(string) //nolint:errcheck // verified below
	member, err := auth.NewMembershipRepository(env.db).IsMember(context.Background(), org.ID, accountID)
	if err != nil {
		t.Fatalf("IsMember() error = %v", err)
	}
	if !member {
		t.Error("created client is not a member of the actor's organisation")
	}
}

func TestCreateAccount_ClientMerge(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	existing := seedClient(t, env.db, "shared@example.com", orgA.ID)
	seedAccount(t, env.db, "sales@beta.com", auth.RoleOrgSales, orgB.ID)
	token := env.login(t, "sales@beta.com")

	// Same handle, org_client role: merges into a membership grant
	resp := env.do(t, http.MethodPost, "/api/v1/accounts", token, map[string]any{
		"handle": "shared@example.com",
		"role":   "org_client",
	})
	body := decode(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	if body["id"] != existing.ID {
		t.Errorf("merged account id = %v, want %s", body["id"], existing.ID)
	}

	member, err := auth.NewMembershipRepository(env.db).IsMember(context.Background(), orgB.ID, existing.ID)
	if err != nil {
		t.Fatalf("IsMember() error = %v", err)
	}
	if !member {
		t.Error("merge did not add the new membership")
	}
}

func TestCreateAccount_NonClientCollision(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedAccount(t, env.db, "taken@acme.com", auth.RoleOrgAdmin, org.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPost, "/api/v1/accounts", token, map[string]any{
		"handle": "taken@acme.com",
		"role":   "org_admin",
		"org_id": org.ID,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSearchAccounts_OrgScoped(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	seedAccount(t, env.db, "orgadmin@acme.com", auth.RoleOrgAdmin, orgA.ID)
	seedClient(t, env.db, "mine@example.com", orgA.ID)
	seedClient(t, env.db, "theirs@example.com", orgB.ID)

	token := env.login(t, "orgadmin@acme.com")

	resp := env.do(t, http.MethodGet, "/api/v1/accounts/search?q=example.com", token, nil)
	body := decode(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	accounts, _ := body["accounts"].([]any) //nolint:errcheck // checked via length below
	if len(accounts) != 1 {
		t.Fatalf("visible accounts = %d, want 1: %v", len(accounts), body)
	}
	first, _ := accounts[0].(map[string]any) //nolint:errcheck // shape asserted above
	if first["handle"] != "mine@example.com" {
		t.Errorf("visible handle = %v, want mine@example.com", first["handle"])
	}
}

func TestGetAccount_OutOfScopeReadsAsNotFound(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	seedAccount(t, env.db, "orgadmin@acme.com", auth.RoleOrgAdmin, orgA.ID)
	hidden := seedClient(t, env.db, "theirs@example.com", orgB.ID)

	token := env.login(t, "orgadmin@acme.com")

	resp := env.do(t, http.MethodGet, "/api/v1/accounts/"+hidden.ID, token, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateHandle(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	target := seedClient(t, env.db, "old@example.com", org.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPatch, "/api/v1/accounts/"+target.ID+"/handle", token, map[string]string{
		"handle": "renamed@example.com",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got, err := auth.NewAccountRepository(env.db).GetByID(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Handle != "renamed@example.com" {
		t.Errorf("handle = %q, want renamed@example.com", got.Handle)
	}
}

func TestUpdateHandle_Conflict(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	target := seedClient(t, env.db, "one@example.com", org.ID)
	seedClient(t, env.db, "two@example.com", org.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPatch, "/api/v1/accounts/"+target.ID+"/handle", token, map[string]string{
		"handle": "two@example.com",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUpdateProfile_MultiOrgClientLocked(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	seedAccount(t, env.db, "orgadmin@acme.com", auth.RoleOrgAdmin, orgA.ID)
	shared := seedClient(t, env.db, "shared@example.com", orgA.ID, orgB.ID)

	token := env.login(t, "orgadmin@acme.com")

	resp := env.do(t, http.MethodPatch, "/api/v1/accounts/"+shared.ID+"/profile", token, map[string]string{
		"name":    "Changed",
		"surname": "Name",
	})
	defer resp.Body.Close()

	// Client belongs to two organisations; no single org may edit it
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDeleteAccount_Full(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	target := seedClient(t, env.db, "victim@example.com", org.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodDelete, "/api/v1/accounts/"+target.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	_, err := auth.NewAccountRepository(env.db).GetByID(context.Background(), target.ID)
	if !errors.Is(err, auth.ErrAccountNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrAccountNotFound", err)
	}
}

func TestDeleteAccount_MultiOrgDegradesToMembershipRemoval(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	seedAccount(t, env.db, "orgadmin@acme.com", auth.RoleOrgAdmin, orgA.ID)
	shared := seedClient(t, env.db, "shared@example.com", orgA.ID, orgB.ID)

	token := env.login(t, "orgadmin@acme.com")

	resp := env.do(t, http.MethodDelete, "/api/v1/accounts/"+shared.ID, token, nil)
	body := decode(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	if body["status"] != "membership_removed" {
		t.Errorf("status field = %v, want membership_removed", body["status"])
	}

	// Account survives in the other organisation
	if _, err := auth.NewAccountRepository(env.db).GetByID(context.Background(), shared.ID); err != nil {
		t.Errorf("account should survive: %v", err)
	}
	member, err := auth.NewMembershipRepository(env.db).IsMember(context.Background(), orgA.ID, shared.ID)
	if err != nil {
		t.Fatalf("IsMember() error = %v", err)
	}
	if member {
		t.Error("membership in actor's organisation should be gone")
	}
}

func TestRemoveMembership_LastMembershipConflict(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	client := seedClient(t, env.db, "client@example.com", org.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodDelete, "/api/v1/accounts/"+client.ID+"/orgs/"+org.ID, token, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestAddAndRemoveMembership(t *testing.T) {
	env := newTestEnv(t)
	orgA := seedOrg(t, env.db, "Acme")
	orgB := seedOrg(t, env.db, "Beta")
	client := seedClient(t, env.db, "client@example.com", orgA.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPut, "/api/v1/accounts/"+client.ID+"/orgs/"+orgB.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add membership status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/accounts/"+client.ID+"/orgs", token, nil)
	body := decode(t, resp)
	orgs, _ := body["org_ids"].([]any) //nolint:errcheck // checked via length below
	if len(orgs) != 2 {
		t.Fatalf("org count = %d, want 2", len(orgs))
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/accounts/"+client.ID+"/orgs/"+orgA.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove membership status = %d, want 200", resp.StatusCode)
	}
}

func TestAddMembership_NonClientRejected(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	target := seedAccount(t, env.db, "orgadmin@acme.com", auth.RoleOrgAdmin, org.ID)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPut, "/api/v1/accounts/"+target.ID+"/orgs/"+org.ID, token, nil)
	defer resp.Body.Close()

	// Only org_client accounts use memberships
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestResendActivation(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")
	org := seedOrg(t, env.db, "Acme")

	dormant := &auth.Account{Handle: "new@acme.com", Role: auth.RoleOrgAdmin, OrgID: org.ID}
	if err := auth.NewAccountRepository(env.db).Create(context.Background(), dormant); err != nil {
		t.Fatalf("creating dormant account: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/accounts/"+dormant.ID+"/resend-activation", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	// Activated accounts cannot be re-activated
	active := seedAccount(t, env.db, "active@acme.com", auth.RoleOrgAdmin, org.ID)
	resp = env.do(t, http.MethodPost, "/api/v1/accounts/"+active.ID+"/resend-activation", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resend for activated account status = %d, want 409", resp.StatusCode)
	}
}
