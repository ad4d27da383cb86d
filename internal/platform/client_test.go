package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("test-token", 5*time.Second,
		WithBaseURLs(srv.URL, srv.URL),
		WithBackoff(time.Millisecond))
	return c, srv
}

func TestGetProfile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/profile/U1", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"userId":"U1","displayName":"Alice","pictureUrl":"https://p.example/u1.jpg"}`))
	}))

	profile, err := c.GetProfile(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.DisplayName)
}

func TestGetGroupMemberIDs_Pagination(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/group/G1/members/ids", r.URL.Path)
		if r.URL.Query().Get("start") == "" {
			w.Write([]byte(`{"memberIds":["U1","U2"],"next":"tok"}`))
			return
		}
		w.Write([]byte(`{"memberIds":["U3"]}`))
	}))

	ids, err := c.GetGroupMemberIDs(context.Background(), "G1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2", "U3"}, ids)
}

func TestGetContent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/M1/content", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpegbytes"))
	}))

	content, err := c.GetContent(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", content.ContentType)
	assert.Equal(t, []byte("jpegbytes"), content.Bytes)
}

func TestRetry_TransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"userId":"U1","displayName":"Alice"}`))
	}))

	profile, err := c.GetProfile(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.DisplayName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.GetProfile(context.Background(), "U1")
	assert.Error(t, err)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestRetry_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.GetProfile(context.Background(), "U1")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetProfile(context.Background(), "Ugone")
	assert.ErrorIs(t, err, ErrNotFound)
}
