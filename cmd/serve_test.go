package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/leadsense/internal/config"
	"github.com/sells-group/leadsense/internal/model"
	"github.com/sells-group/leadsense/internal/pipeline"
	"github.com/sells-group/leadsense/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	testCfg := &config.Config{Enabled: true}
	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(testCfg, st, nil, nil),
	}
}

func TestServeMux_Health(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServeMux_PostTurn(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	turn := model.TurnEnvelope{
		AgentID:        "agent-1",
		ConversationID: "conv-1",
		UserMessage:    "what is the pricing, we have budget for a demo, email me at sam@globex.io",
	}
	body, _ := json.Marshal(turn)

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var outcome pipeline.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcome))
	assert.True(t, outcome.Processed)
	require.NotNil(t, outcome.Detection)
	assert.NotEmpty(t, outcome.Detection.LeadID)
}

func TestServeMux_PostTurn_MissingConversationID(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/turns",
		bytes.NewReader([]byte(`{"user_message":"pricing please"}`)))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "conversation_id")
}

func TestServeMux_PostTurn_InvalidBody(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeMux_ListAndGetLeads(t *testing.T) {
	env := newTestEnv(t)
	mux := newServeMux(env)

	lead, _, err := env.Store.UpsertLead(context.Background(), model.LeadUpsert{
		ConversationID: "conv-1",
		AgentID:        "agent-1",
		Name:           "Jane Doe",
		Score:          82,
		Qualified:      true,
		IntentLevel:    model.IntentHigh,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/leads?qualified=true&min_score=80", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var listed struct {
		Leads []model.Lead `json:"leads"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	require.Len(t, listed.Leads, 1)
	assert.Equal(t, lead.ID, listed.Leads[0].ID)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/leads/"+lead.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got model.Lead
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Jane Doe", got.Name)
}

func TestServeMux_GetLead_NotFound(t *testing.T) {
	mux := newServeMux(newTestEnv(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/leads/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeMux_LeadEvents(t *testing.T) {
	env := newTestEnv(t)
	mux := newServeMux(env)

	lead, _, err := env.Store.UpsertLead(context.Background(), model.LeadUpsert{
		ConversationID: "conv-1",
		IntentLevel:    model.IntentMedium,
	})
	require.NoError(t, err)
	require.NoError(t, env.Store.AppendEvent(context.Background(), model.LeadEvent{
		LeadID: lead.ID,
		Type:   model.EventDetected,
	}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/leads/"+lead.ID+"/events", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Events []model.LeadEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Events, 1)
	assert.Equal(t, model.EventDetected, got.Events[0].Type)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/leads/missing/events", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunServer_DrainsInFlightRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- runServer(ctx, srv, ln)
	}()

	reqErr := make(chan error, 1)
	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err != nil {
			reqErr <- err
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
		reqErr <- nil
	}()

	// Stop the server while the request is still being handled. The drain
	// must let it finish rather than cutting it off.
	<-started
	cancel()

	require.NoError(t, <-reqErr)
	assert.Equal(t, http.StatusOK, <-status)
	assert.NoError(t, <-serveErr)
}

func TestLeadFilterFromQuery_Validation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/leads?intent_level=frenzied", nil)
	_, err := leadFilterFromQuery(req)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/v1/leads?min_score=lots", nil)
	_, err = leadFilterFromQuery(req)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/v1/leads?qualified=true&min_score=70&limit=5&status=new", nil)
	filter, err := leadFilterFromQuery(req)
	require.NoError(t, err)
	require.NotNil(t, filter.Qualified)
	assert.True(t, *filter.Qualified)
	assert.Equal(t, 70, filter.MinScore)
	assert.Equal(t, 5, filter.Limit)
	assert.Equal(t, "new", filter.Status)
}
