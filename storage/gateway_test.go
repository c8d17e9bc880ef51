package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayStore(t *testing.T) {
	ctx := context.Background()
	payload := []byte("payload bytes")
	id := interfaces.ObjectID(interfaces.ComputeID(payload).String())

	var gotTags http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+SoulsPath, func(w http.ResponseWriter, r *http.Request) {
		gotTags = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(interfaces.Receipt{
			ObjectID:    id,
			SizeBytes:   len(body),
			ContentHash: string(id),
			Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	})
	mux.HandleFunc("GET "+SoulsPath+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != string(id) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		w.Write(payload)
	})
	mux.HandleFunc("GET "+AgentsPath+"/{agent}/souls", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("agent") == "broken" {
			http.Error(w, "index unavailable", http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(SearchResponse{AgentID: r.PathValue("agent"), ObjectIDs: []interfaces.ObjectID{id}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := NewGatewayStore(srv.URL+"/", discardLogger(), 5*time.Second)

	receipt, err := store.Upload(ctx, payload, map[string]string{interfaces.AgentIDTag: "agent 1"})
	require.NoError(t, err)
	assert.Equal(t, id, receipt.ObjectID)
	assert.Equal(t, len(payload), receipt.SizeBytes)
	assert.Equal(t, "agent 1", gotTags.Get(TagHeaderPrefix+interfaces.AgentIDTag))

	data, err := store.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = store.Download(ctx, "unknown")
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	ids, err := store.SearchByAgent(ctx, "agent 1", 2)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ObjectID{id}, ids)

	_, err = store.SearchByAgent(ctx, "broken", 2)
	assert.ErrorContains(t, err, "search failed with code 500: index unavailable")
}
