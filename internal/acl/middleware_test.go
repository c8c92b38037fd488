package acl_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/acl"
	"github.com/aegisgate/aegisgate/internal/shared"
	_ "github.com/aegisgate/aegisgate/testing"
)

func TestIdentifyStoresForwardedIdentity(t *testing.T) {
	var got *shared.Identity
	handler := acl.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/acl/groups", nil)
	req.Header.Set(acl.HeaderAuthenticatedUser, "alice")
	req.Header.Set(acl.HeaderValidatedToken, "tok-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "tok-1", got.Token)
}

func TestIdentifyWithoutHeadersLeavesContextEmpty(t *testing.T) {
	var got *shared.Identity
	handler := acl.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.IdentityFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/acl/groups", nil))
	require.Nil(t, got)
}

func TestRequireAnyRejectsRequestWithoutIdentity(t *testing.T) {
	svc, _, _ := seedGraph(t)
	guard := acl.Middleware{Service: svc}

	handler := guard.RequireAny(acl.PermissionGraphAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without an identity")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/acl/groups", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
