package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/nerrad567/gatekeep-core/internal/auth"
)

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")

	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "admin@example.com",
		"password": testPassword,
	})
	body := decode(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["access_token"] == "" {
		t.Error("access_token is empty")
	}
	if body["token_type"] != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", body["token_type"])
	}
	if expiresIn, ok := body["expires_in"].(float64); !ok || expiresIn <= 0 {
		t.Errorf("expires_in = %v, want positive", body["expires_in"])
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")

	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "admin@example.com",
		"password": "WrongPass1!",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogin_UnknownHandle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "ghost@example.com",
		"password": testPassword,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "victim@example.com", auth.RoleAdmin, "")

	for i := 0; i < auth.DefaultAccountFailLimit; i++ {
		resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"handle":   "victim@example.com",
			"password": "WrongPass1!",
		})
		resp.Body.Close()
	}

	// Locked now, even with the correct password
	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "victim@example.com",
		"password": testPassword,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusLocked {
		t.Errorf("status = %d, want 423", resp.StatusCode)
	}
}

func TestAuthMe(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedClient(t, env.db, "client@example.com", org.ID)

	token := env.login(t, "client@example.com")

	resp := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	body := decode(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	account, ok := body["account"].(map[string]any)
	if !ok {
		t.Fatalf("account field missing: %v", body)
	}
	if account["handle"] != "client@example.com" {
		t.Errorf("handle = %v, want client@example.com", account["handle"])
	}
	if account["password_hash"] != nil {
		t.Error("password_hash leaked in response")
	}

	orgs, ok := body["org_ids"].([]any)
	if !ok || len(orgs) != 1 || orgs[0] != org.ID {
		t.Errorf("org_ids = %v, want [%s]", body["org_ids"], org.ID)
	}
}

func TestRequireAuth_DormantAccountForbidden(t *testing.T) {
	env := newTestEnv(t)
	account := seedAccount(t, env.db, "paused@example.com", auth.RoleAdmin, "")
	token := env.login(t, "paused@example.com")

	// Deactivated after login; the session signature is still valid
	if _, err := env.db.Exec("UPDATE accounts SET activated = 0 WHERE id = ?", account.ID); err != nil {
		t.Fatalf("deactivating account: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	defer resp.Body.Close()

	// Not the generic 401: the caller holds a live session but the
	// account needs activation.
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestUpdateSelfProfile(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	client := seedClient(t, env.db, "client@example.com", org.ID)
	token := env.login(t, "client@example.com")

	resp := env.do(t, http.MethodPatch, "/api/v1/auth/me", token, map[string]string{
		"name": "Renamed",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got, err := auth.NewAccountRepository(env.db).GetByID(context.Background(), client.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Renamed" || got.Surname != "Account" {
		t.Errorf("profile = %s %s, want Renamed Account", got.Name, got.Surname)
	}

	// Nothing to change is rejected
	resp = env.do(t, http.MethodPatch, "/api/v1/auth/me", token, map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty update status = %d, want 400", resp.StatusCode)
	}
}

func TestLogout_InvalidatesSession(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	// Wrong old password
	resp := env.do(t, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{
		"old_password": "WrongPass1!",
		"new_password": "N3wSecret!pass",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong old password status = %d, want 401", resp.StatusCode)
	}

	// Weak new password
	resp = env.do(t, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{
		"old_password": testPassword,
		"new_password": "short",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("weak password status = %d, want 400", resp.StatusCode)
	}

	// Successful change revokes the session
	resp = env.do(t, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{
		"old_password": testPassword,
		"new_password": "N3wSecret!pass",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after password change status = %d, want 401", resp.StatusCode)
	}
}

func TestActivateFlow(t *testing.T) {
	env := newTestEnv(t)

	// Dormant account, no password yet
	dormant := &auth.Account{Handle: "new@example.com", Role: auth.RoleAdmin}
	if err := auth.NewAccountRepository(env.db).Create(context.Background(), dormant); err != nil {
		t.Fatalf("creating dormant account: %v", err)
	}

	token, err := env.srv.manager.IssueActivationToken(context.Background(), dormant.ID)
	if err != nil {
		t.Fatalf("IssueActivationToken() error = %v", err)
	}

	// Weak password is rejected without burning the token
	resp := env.do(t, http.MethodPost, "/api/v1/auth/activate", "", map[string]string{
		"token":    token,
		"password": "short",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/auth/activate", "", map[string]string{
		"token":    token,
		"password": testPassword,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d, want 200", resp.StatusCode)
	}

	// Replay is rejected
	resp = env.do(t, http.MethodPost, "/api/v1/auth/activate", "", map[string]string{
		"token":    token,
		"password": testPassword,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("replay status = %d, want 401", resp.StatusCode)
	}

	// And the account can now log in
	env.login(t, "new@example.com")
}

func TestForgotPassword_UniformResponse(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "known@example.com", auth.RoleAdmin, "")

	for _, handle := range []string{"known@example.com", "ghost@example.com"} {
		resp := env.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", map[string]string{
			"handle": handle,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("forgot-password(%s) status = %d, want 202", handle, resp.StatusCode)
		}
	}
}

func TestResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	account := seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")

	token, err := env.srv.manager.IssueResetToken(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("IssueResetToken() error = %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{
		"token":    token,
		"password": "N3wSecret!pass",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", resp.StatusCode)
	}

	// Old password dead, new one works
	resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "admin@example.com",
		"password": testPassword,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login with old password status = %d, want 401", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "admin@example.com",
		"password": "N3wSecret!pass",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("login with new password status = %d, want 200", resp.StatusCode)
	}
}

func TestDeleteSelf(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedAccount(t, env.db, "sales@example.com", auth.RoleOrgSales, org.ID)
	token := env.login(t, "sales@example.com")

	resp := env.do(t, http.MethodDelete, "/api/v1/auth/me", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete self status = %d, want 204", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"handle":   "sales@example.com",
		"password": testPassword,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login after self delete status = %d, want 401", resp.StatusCode)
	}
}

func TestDeleteSelf_AdminDenied(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	token := env.login(t, "admin@example.com")

	resp := env.do(t, http.MethodDelete, "/api/v1/auth/me", token, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("admin self delete status = %d, want 403", resp.StatusCode)
	}
}

func TestWSTicket_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	org := seedOrg(t, env.db, "Acme")
	seedAccount(t, env.db, "admin@example.com", auth.RoleAdmin, "")
	seedAccount(t, env.db, "orgadmin@example.com", auth.RoleOrgAdmin, org.ID)

	orgToken := env.login(t, "orgadmin@example.com")
	resp := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", orgToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("org_admin ticket status = %d, want 403", resp.StatusCode)
	}

	adminToken := env.login(t, "admin@example.com")
	resp = env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", adminToken, nil)
	body := decode(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin ticket status = %d, want 200", resp.StatusCode)
	}
	ticket, _ := body["ticket"].(string) //nolint:errcheck // checked via length below
	if len(ticket) != 64 {
		t.Errorf("ticket length = %d, want 64 hex chars", len(ticket))
	}
}

func TestTicketStore_SingleUse(t *testing.T) {
	store := newTicketStore()
	identity := &auth.Identity{AccountID: "acc-1", Role: auth.RoleAdmin}

	ticket := store.issue(identity)

	entry, ok := store.consume(ticket)
	if !ok {
		t.Fatal("consume() failed for fresh ticket")
	}
	if entry.accountID != "acc-1" || entry.role != auth.RoleAdmin {
		t.Errorf("entry = %+v, want acc-1/admin", entry)
	}

	if _, ok := store.consume(ticket); ok {
		t.Error("consume() succeeded twice for the same ticket")
	}
}
