package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/signing"
)

var secret = []byte("catalog-secret")

// authorized checks the token the same way the service does.
func authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Token ")
	return ok && signing.NewSigner(secret).Validate(token, time.Now(), time.Minute)
}

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/", secret)
	require.NoError(t, err)
	return c
}

func TestNextInventoryNumber(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/inventory/next", r.URL.Path)
		assert.Equal(t, "ABC", r.URL.Query().Get("prefix"))
		_, _ = w.Write([]byte(`{"next": 42}`))
	})
	n, err := c.NextInventoryNumber(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestNextInventoryNumberOutOfRange(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"next": 0}`))
	})
	_, err := c.NextInventoryNumber(context.Background(), "ABC")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestInsertFiles(t *testing.T) {
	var got []File
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body struct {
			Files []File `json:"files"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.Files
		w.WriteHeader(http.StatusCreated)
	})

	item := model.ProcessingItem{Code: "ABC_0000001_01", Type: model.TypeImage, Processed: true, Fields: map[string]string{"title": "Harbour"}}
	item.SetStorageKey("archival", "images/archival/ABC_0000001_01.jpg")
	require.NoError(t, c.InsertFiles(context.Background(), []File{FileFromItem("Harbour views", item)}))

	require.Len(t, got, 1)
	assert.Equal(t, "ABC_0000001_01", got[0].Code)
	assert.Equal(t, "Harbour views", got[0].Collection)
	assert.Equal(t, "image", got[0].Type)
	assert.Equal(t, "Harbour", got[0].Fields["title"])
	assert.Equal(t, "images/archival/ABC_0000001_01.jpg", got[0].StorageKeys["archival"])

	assert.NoError(t, c.InsertFiles(context.Background(), nil))
}

func TestDeleteImport(t *testing.T) {
	var code string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		code = r.URL.Query().Get("code")
	})
	require.NoError(t, c.DeleteImport(context.Background(), "ABC_0000005"))
	assert.Equal(t, "ABC_0000005", code)
}

func TestErrors(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	})
	err := c.DeleteImport(context.Background(), "ABC_0000005")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "database down")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()
	wrong, err := New(srv.URL, []byte("wrong"))
	require.NoError(t, err)
	_, err = wrong.NextInventoryNumber(context.Background(), "ABC")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = New("not a url", secret)
	assert.Error(t, err)
}
