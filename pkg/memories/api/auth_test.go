package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-memories/pkg/memories"
	"github.com/tendant/simple-memories/pkg/memories/api"
)

func authorized(t *testing.T, srv *testServer, token, method, path string) int {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv := setupServer(t, api.RouterConfig{JWTSecret: secret})

	_, token, err := api.NewTokenAuth(secret).Encode(map[string]interface{}{"sub": "alice"})
	require.NoError(t, err)
	_, forged, err := api.NewTokenAuth("other-secret").Encode(map[string]interface{}{"sub": "alice"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, authorized(t, srv, "", http.MethodPost, "/api/v1/capsules/resolve"))
	assert.Equal(t, http.StatusUnauthorized, authorized(t, srv, forged, http.MethodPost, "/api/v1/capsules/resolve"))
	assert.Equal(t, http.StatusOK, authorized(t, srv, token, http.MethodPost, "/api/v1/capsules/resolve"))

	// Health checks stay open.
	assert.Equal(t, http.StatusOK, authorized(t, srv, "", http.MethodGet, "/healthz"))

	capsule, err := srv.service.CapsuleForOwner(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", capsule.Owner)
	assert.Equal(t, memories.KindCapsule, memories.ClassifyID(capsule.ID))
}

func TestResolveCapsuleWithoutAuth(t *testing.T) {
	srv := setupServer(t, api.RouterConfig{})

	var first, second memories.Capsule
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/v1/capsules/resolve", api.ResolveCapsuleRequest{Owner: "bob"}, &first))
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/v1/capsules/resolve", api.ResolveCapsuleRequest{Owner: "bob"}, &second))
	assert.Equal(t, first.ID, second.ID)

	var body api.ErrorBody
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/api/v1/capsules/resolve", api.ResolveCapsuleRequest{}, &body))
}
