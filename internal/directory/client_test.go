package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, `\appid\418460`, r.URL.Query().Get("filter"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":{"servers":[
			{"addr":"10.0.0.1:27015","gameport":7777,"steamid":"90071992547409920",
			 "name":"Test","appid":418460,"gamedir":"rs2","version":"1.0.9",
			 "product":"rs2","region":3,"players":12,"max_players":64,"bots":0,
			 "map":"VNTE-Resort","secure":true,"dedicated":true,"os":"w","gametype":"te"},
			{"addr":"bad-no-port","gameport":7777},
			{"addr":"10.0.0.2:27016","gameport":8888}
		]}}`))
	}))
	defer srv.Close()

	c := New("secret", srv.URL, 5*time.Second, 100)
	records := c.ServerList(context.Background(), `\appid\418460`, 100)

	require.Len(t, records, 2, "malformed entries are skipped")

	assert.Equal(t, "10.0.0.1", records[0].Address)
	assert.Equal(t, uint16(7777), records[0].GamePort)
	assert.Equal(t, uint16(27015), records[0].QueryPort)
	assert.Equal(t, "Test", records[0].Name)
	assert.Equal(t, 418460, records[0].AppID)
	assert.Equal(t, 12, records[0].Players)
	assert.True(t, records[0].Secure)

	assert.Equal(t, "10.0.0.2", records[1].Address)
	assert.Equal(t, uint16(8888), records[1].GamePort)

	assert.Equal(t, int64(1), c.Requests())
}

func TestServerListNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New("bad-key", srv.URL, 5*time.Second, 100)
	assert.Empty(t, c.ServerList(context.Background(), "", 0))
}

func TestServerListMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":`))
	}))
	defer srv.Close()

	c := New("key", srv.URL, 5*time.Second, 100)
	assert.Empty(t, c.ServerList(context.Background(), "", 0))
}

func TestServerListUnreachable(t *testing.T) {
	c := New("key", "http://127.0.0.1:1", 500*time.Millisecond, 100)
	assert.Empty(t, c.ServerList(context.Background(), "", 0))
}
