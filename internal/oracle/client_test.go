package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapReason(t *testing.T) {
	cases := []struct {
		name     string
		accepted bool
		text     string
		identity bool
		want     Reason
	}{
		{"accepted always ok", true, "Face successfully verified.", true, ReasonOK},
		{"accepted ignores text", true, "whatever", false, ReasonOK},
		{"multiple faces", false, "Multiple faces detected. Please ensure only one person is in the frame.", false, ReasonMultipleFaces},
		{"no face", false, "No face could be found in the image.", false, ReasonNoFace},
		{"obstructed", false, "Face is partially obstructed. Please ensure your face is fully visible.", false, ReasonObstructed},
		{"not clear", false, "Captured photo is not clear enough. Please try again in a well-lit area.", false, ReasonNotClear},
		{"mismatch in identity mode", false, "Face does not match the registered profile.", true, ReasonMismatch},
		{"mismatch text without reference stays generic", false, "Face does not match the registered profile.", false, ReasonNotClear},
		{"unknown rejection maps to not_clear", false, "something unexpected", true, ReasonNotClear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapReason(tc.accepted, tc.text, tc.identity))
		})
	}
}

func TestVerifyLivenessMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["image"])
		_, hasRef := req["reference_image"]
		assert.False(t, hasRef)
		json.NewEncoder(w).Encode(map[string]any{"accepted": true, "reason": "Face successfully verified."})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, false)
	res, err := c.Verify(context.Background(), DataURI([]byte("jpeg")), "")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, ReasonOK, res.Reason)
}

func TestVerifyIdentityModeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["reference_image"])
		json.NewEncoder(w).Encode(map[string]any{"accepted": false, "reason": "Face does not match the registered profile."})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, false)
	res, err := c.Verify(context.Background(), DataURI([]byte("a")), DataURI([]byte("b")))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonMismatch, res.Reason)
}

func TestVerifyServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, false)
	_, err := c.Verify(context.Background(), DataURI([]byte("a")), "")
	assert.ErrorIs(t, err, ErrOracleUnavailable)
}

func TestVerifyMalformedResponseIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, false)
	_, err := c.Verify(context.Background(), DataURI([]byte("a")), "")
	assert.ErrorIs(t, err, ErrOracleUnavailable)
}

func TestVerifyTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, 20*time.Millisecond, false)
	_, err := c.Verify(context.Background(), DataURI([]byte("a")), "")
	assert.ErrorIs(t, err, ErrOracleUnavailable)
}

func TestVerifySkipMode(t *testing.T) {
	c := New("http://unused", time.Second, true)
	res, err := c.Verify(context.Background(), "", "")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, ReasonOK, res.Reason)
}
