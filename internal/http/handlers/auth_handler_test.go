package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
)

func TestVerifyKey(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/ucp/v1/auth/verify", e.reader, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	var vr VerifyResponse
	decode(t, w, &vr)
	if !vr.Valid || vr.Permissions != domain.PermRead || !strings.HasPrefix(vr.KeyID, "ucp_") || vr.Owner != "tests" {
		t.Fatalf("verify body = %+v", vr)
	}

	wantError(t, e.do(http.MethodGet, "/ucp/v1/auth/verify", "", nil), http.StatusUnauthorized, ErrCodeAuthRequired)
	wantError(t, e.do(http.MethodGet, "/ucp/v1/auth/verify", "no-colon", nil), http.StatusUnauthorized, ErrCodeInvalidKeyFormat)

	bad := vr.KeyID + ":ucp_sk_wrong"
	wantError(t, e.do(http.MethodGet, "/ucp/v1/auth/verify", bad, nil), http.StatusUnauthorized, ErrCodeInvalidKey)
}

func TestCreateKey_Validation(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/ucp/v1/auth/keys", e.admin, map[string]any{"permissions": "root"})
	wantError(t, w, http.StatusBadRequest, ErrCodeValidation)
	if !strings.Contains(w.Body.String(), "permissions: must be one of read, write, admin") {
		t.Fatalf("message should name the field: %s", w.Body.String())
	}

	w = e.do(http.MethodPost, "/ucp/v1/auth/keys", e.admin, map[string]any{})
	wantError(t, w, http.StatusBadRequest, ErrCodeValidation)

	wantError(t, e.do(http.MethodPost, "/ucp/v1/auth/keys", e.writer, map[string]any{"permissions": "read"}),
		http.StatusForbidden, ErrCodeInsufficientPermission)
}

func TestKeys_CreateListDelete(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/ucp/v1/auth/keys", e.admin, CreateKeyRequest{
		Owner: "agent@example.com", Description: "assistant", Permissions: "write",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created CreatedKey
	decode(t, w, &created)
	if created.Key == nil || created.Credential != created.Key.KeyID+":"+created.Secret || created.Warning == "" {
		t.Fatalf("created = %+v", created)
	}
	if strings.Contains(w.Body.String(), "$2a$") {
		t.Fatalf("bcrypt hash leaked: %s", w.Body.String())
	}

	// the new credential works straight away
	if w := e.do(http.MethodPost, "/ucp/v1/carts", created.Credential, nil); w.Code != http.StatusCreated {
		t.Fatalf("new key rejected: %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodGet, "/ucp/v1/auth/keys?per_page=2", e.admin, nil)
	var page struct {
		Data []domain.APIKey `json:"data"`
		Meta Meta            `json:"meta"`
	}
	decodeBody(t, w, &page)
	if page.Meta.Total != 4 || page.Meta.TotalPages != 2 || len(page.Data) != 2 {
		t.Fatalf("list = %s", w.Body.String())
	}

	id := strconv.FormatUint(uint64(created.Key.ID), 10)
	if w := e.do(http.MethodDelete, "/ucp/v1/auth/keys/"+id, e.admin, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	wantError(t, e.do(http.MethodDelete, "/ucp/v1/auth/keys/"+id, e.admin, nil), http.StatusNotFound, ErrCodeKeyNotFound)
	wantError(t, e.do(http.MethodPost, "/ucp/v1/carts", created.Credential, nil), http.StatusUnauthorized, ErrCodeInvalidKey)
	wantError(t, e.do(http.MethodDelete, "/ucp/v1/auth/keys/abc", e.admin, nil), http.StatusBadRequest, ErrCodeBadRequest)
}
