package imagestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlinePassesThrough(t *testing.T) {
	uri := "data:image/jpeg;base64,aGk="
	out, err := Inline{}.Put(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, uri, out)
}

func TestCloudinaryPut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.NotEmpty(t, r.FormValue("signature"))
		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "attendgate", r.FormValue("folder"))
		assert.Contains(t, r.FormValue("file"), "data:image/jpeg;base64,")
		w.Write([]byte(`{"public_id":"p1","secure_url":"https://cdn.example/p1.jpg"}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "attendgate")
	c.uploadURL = srv.URL
	url, err := c.Put(context.Background(), "data:image/jpeg;base64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/p1.jpg", url)
}

func TestCloudinaryPutUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", "")
	c.uploadURL = srv.URL
	_, err := c.Put(context.Background(), "data:image/jpeg;base64,aGk=")
	assert.Error(t, err)
}

func TestSignIsStable(t *testing.T) {
	c := NewCloudinary("demo", "key", "secret", "f")
	params := map[string]string{"timestamp": "100", "api_key": "key", "folder": "f"}
	assert.Equal(t, c.sign(params), c.sign(params))
	assert.NotEmpty(t, c.sign(params))
}
