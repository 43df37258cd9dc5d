package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runGlancectl runs the command tree with args. Returns output intended for
// stdout and the returned error, if any.
func runGlancectl(args ...string) (string, error) {
	cmd := newRootCommand()
	stdout := bytes.Buffer{}
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestKeyValuePairs(t *testing.T) {
	m, err := keyValuePairs(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	m, err = keyValuePairs([]string{"is_public=true", "name=cirros", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"is_public": "true",
		"name":      "cirros",
		"note":      "a=b",
	}, m)

	_, err = keyValuePairs([]string{"novalue"})
	assert.Error(t, err)
	_, err = keyValuePairs([]string{"=value"})
	assert.Error(t, err)
}

func TestShowCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]interface{}{
			"id":         "4ab19b44-13b2-4bb3-8c31-69d1ca6a161e",
			"name":       "cirros",
			"status":     "active",
			"visibility": "public",
			"size":       4096,
		})
	}))
	defer server.Close()

	out, err := runGlancectl("show", "--api-server", server.URL, "4ab19b44-13b2-4bb3-8c31-69d1ca6a161e")
	require.NoError(t, err)

	var decoded imageOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "4ab19b44-13b2-4bb3-8c31-69d1ca6a161e", decoded.ID)
	assert.Equal(t, "cirros", decoded.Name)
	assert.Equal(t, "public", decoded.Visibility)
	assert.Equal(t, int64(4096), decoded.Size)
}

func TestListCommand(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gotQuery = req.URL.Query().Get("name")
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]interface{}{
			"images": []map[string]interface{}{
				{"id": "aaa", "name": "cirros", "status": "active", "visibility": "public"},
			},
		})
	}))
	defer server.Close()

	out, err := runGlancectl("list", "--api-server", server.URL, "--filter", "name=cirros")
	require.NoError(t, err)
	assert.Equal(t, "cirros", gotQuery)

	var decoded []imageOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "aaa", decoded[0].ID)
}

func TestDeleteCommand(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gotMethod, gotPath = req.Method, req.URL.Path
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	_, err := runGlancectl("delete", "--api-server", server.URL, "aaa")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v2/images/aaa", gotPath)
}

func TestDownloadCommandToStdout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		_, _ = rw.Write([]byte("image bits"))
	}))
	defer server.Close()

	out, err := runGlancectl("download", "--api-server", server.URL, "aaa", "-")
	require.NoError(t, err)
	assert.Equal(t, "image bits", out)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runGlancectl("frobnicate")
	assert.Error(t, err)
}
