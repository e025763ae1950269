package bookings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnstile_SkipsWithoutSecret(t *testing.T) {
	ok, err := NewTurnstile("", nil).Verify(context.Background(), "", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTurnstile_Verify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "s3cret", r.PostForm.Get("secret"))
		if r.PostForm.Get("response") == "good" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	ts := NewTurnstile("s3cret", nil)
	ts.endpoint = srv.URL

	ok, err := ts.Verify(context.Background(), "good", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ts.Verify(context.Background(), "bad", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ts.Verify(context.Background(), "", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTurnstile_FailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	ts := NewTurnstile("s3cret", nil)
	ts.endpoint = srv.URL
	ok, err := ts.Verify(context.Background(), "token", "")
	assert.Error(t, err)
	assert.False(t, ok)
}
