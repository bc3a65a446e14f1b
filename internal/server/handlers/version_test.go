package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandler(t *testing.T) {
	t.Cleanup(func() {
		SetVersionInfo("dev", "unknown", "unknown")
		SetAppIdentity(nil)
	})

	decode := func() VersionResponse {
		rec := get(VersionHandler, "/version")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp VersionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp
	}

	SetAppIdentity(nil)
	assert.Equal(t, "dripgate", decode().App.Name)

	SetVersionInfo("1.2.3", "abcd123", "2025-01-01T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{BinaryName: "dripgate-staging"})

	resp := decode()
	assert.Equal(t, "dripgate-staging", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Dependencies.Crucible)
}
