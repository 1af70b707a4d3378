package clients

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefreshURL(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://cdn.example.com/video?sig=fresh","headers":"Cookie: auth=new\r\n"}`))
	}))
	defer server.Close()

	c := NewRefreshClient(server.URL)
	url, headers, err := c.RefreshURL("movies/1234 file.mkv")
	require.NoError(t, err)
	require.Equal(t, "movies/1234 file.mkv", gotKey)
	require.Equal(t, "https://cdn.example.com/video?sig=fresh", url)
	require.Equal(t, "Cookie: auth=new\r\n", headers)
}

func TestRefreshURLRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"url":"https://cdn.example.com/video?sig=fresh"}`))
	}))
	defer server.Close()

	c := NewRefreshClient(server.URL)
	url, _, err := c.RefreshURL("k1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/video?sig=fresh", url)
	require.Equal(t, 2, calls)
}

func TestRefreshURLRejectsClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("unknown key"))
	}))
	defer server.Close()

	c := NewRefreshClient(server.URL)
	_, _, err := c.RefreshURL("k1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestRefreshURLRejectsEmptyURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":""}`))
	}))
	defer server.Close()

	c := NewRefreshClient(server.URL)
	_, _, err := c.RefreshURL("k1")
	require.Error(t, err)
}

func TestRefreshURLWithoutEndpoint(t *testing.T) {
	c := NewRefreshClient("")
	_, _, err := c.RefreshURL("k1")
	require.Error(t, err)
}
