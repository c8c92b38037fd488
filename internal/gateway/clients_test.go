package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/gateway"
	_ "github.com/aegisgate/aegisgate/testing"
)

func TestACLClientEscapesUsernameInPath(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		_ = json.NewEncoder(w).Encode([]string{"SERVICE1_READ"})
	}))
	t.Cleanup(srv.Close)

	client := gateway.NewACLClient(srv.URL, 0)
	perms, err := client.UserPermissions(context.Background(), "alice/../bob?x=1")
	require.NoError(t, err)
	require.Equal(t, []string{"SERVICE1_READ"}, perms)

	// A username with path metacharacters must not change the route shape.
	require.Equal(t, "/acl/users/alice%2F..%2Fbob%3Fx=1/permissions", gotURI)
}

func TestACLClientRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := gateway.NewACLClient(srv.URL, 0)
	_, err := client.UserPermissions(context.Background(), "alice")
	require.Error(t, err)
}
