package main

import (
	"os"
	"testing"

	"marketplace/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
swagger: "2.0"
basePath: /api
paths:
  /Post/GetSinglePostInfo:
    get:
      responses:
        "200": {description: OK}
        "404": {description: Not Found}
  /Post/DeletePost:
    delete:
      responses:
        "200": {description: OK}
    parameters: []
`

func TestCheckRoutes(t *testing.T) {
	doc, err := parseSpec([]byte(sampleDoc))
	require.NoError(t, err)

	issues := checkRoutes(doc, []server.Route{
		{Method: "GET", Path: "/Post/GetSinglePostInfo"},
		{Method: "PUT", Path: "/Post/UpdatePost"},
	})
	assert.Equal(t, []string{
		"documented but not served: DELETE /Post/DeletePost",
		"undocumented route: PUT /Post/UpdatePost",
	}, issues)
}

func TestCompare_ReportsRemovedResponses(t *testing.T) {
	base, err := parseSpec([]byte(sampleDoc))
	require.NoError(t, err)
	revision, err := parseSpec([]byte(`
paths:
  /Post/GetSinglePostInfo:
    get:
      responses:
        "200": {description: OK}
`))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"removed path: /Post/DeletePost",
		"removed response code: GET /Post/GetSinglePostInfo -> 404",
	}, compare(base, revision))
}

func TestParseSpec_RequiresPaths(t *testing.T) {
	_, err := parseSpec([]byte(`swagger: "2.0"`))
	assert.Error(t, err)
}

func TestCommittedDocMatchesRouteTable(t *testing.T) {
	raw, err := os.ReadFile("../../docs/swagger.yaml")
	require.NoError(t, err)
	doc, err := parseSpec(raw)
	require.NoError(t, err)

	assert.Empty(t, checkRoutes(doc, server.RouteTable()))
}
