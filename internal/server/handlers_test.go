package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"hostfact/internal/facts"
	"hostfact/internal/shared"
)

func newTestAPI() (*API, *MemStore) {
	store := NewMemStore()
	api := &API{
		Log:         discardLog(),
		Store:       store,
		EnrollToken: "tok-123",
		AdminKey:    "admin-xyz",
	}
	return api, store
}

type testAgent struct {
	id     string
	pubB64 string
	priv   ed25519.PrivateKey
}

func enrollTestAgent(t *testing.T, srv *httptest.Server) testAgent {
	t.Helper()
	pubB64, privB64, err := shared.GenKeypair()
	if err != nil {
		t.Fatal(err)
	}
	priv, err := shared.DecodePrivKey(privB64)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(shared.EnrollRequest{
		EnrollToken: "tok-123",
		PublicKey:   pubB64,
		Info:        testAgentInfo(),
		Tags:        []string{"web"},
	})
	resp, err := http.Post(srv.URL+"/api/v1/enroll", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("enroll status = %d", resp.StatusCode)
	}
	var er shared.EnrollResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatal(err)
	}
	return testAgent{id: er.AgentID, pubB64: pubB64, priv: priv}
}

// signedReq signs method, path (query excluded) and body hash the way the
// agent does.
func signedReq(t *testing.T, ag testAgent, method, srvURL, rawPath string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, srvURL+rawPath, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	signPath := rawPath
	if i := strings.IndexByte(signPath, '?'); i >= 0 {
		signPath = signPath[:i]
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	bodySha := shared.BodySHA256(body)
	req.Header.Set("X-Agent-Id", ag.id)
	req.Header.Set("X-PubKey", ag.pubB64)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Body-Sha256", bodySha)
	req.Header.Set("X-Signature", shared.Sign(ag.priv, ts, method, signPath, bodySha))
	return req
}

func adminGet(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Admin-Key", "admin-xyz")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func sampleFacts() facts.FactSet {
	return facts.FactSet{
		"hostname":       "web01",
		"fqdn":           "web01.example.com",
		"domain":         "example.com",
		"processorcount": 8,
		"memorytotal":    int64(16384000),
		"memoryfree":     int64(2048000),
		"uptime_seconds": int64(35414),
		"selinux":        true,
		"swapsize":       "8.00 GB",
		"swapfree":       "8.00 GB",
		"ipaddress":      "10.0.0.5",
	}
}

func TestEnroll(t *testing.T) {
	api, _ := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	body, _ := json.Marshal(shared.EnrollRequest{EnrollToken: "wrong", PublicKey: "x"})
	resp, err := http.Post(srv.URL+"/api/v1/enroll", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("bad token status = %d, want 401", resp.StatusCode)
	}

	pubB64, _, _ := shared.GenKeypair()
	body, _ = json.Marshal(shared.EnrollRequest{EnrollToken: "tok-123", PublicKey: "!notbase64", Info: testAgentInfo()})
	resp, err = http.Post(srv.URL+"/api/v1/enroll", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("bad pubkey status = %d, want 400", resp.StatusCode)
	}

	body, _ = json.Marshal(shared.EnrollRequest{EnrollToken: "tok-123", PublicKey: pubB64, Info: testAgentInfo()})
	resp, err = http.Post(srv.URL+"/api/v1/enroll", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var first shared.EnrollResponse
	json.NewDecoder(resp.Body).Decode(&first)
	resp.Body.Close()
	if resp.StatusCode != 200 || first.AgentID == "" {
		t.Fatalf("enroll status = %d resp = %+v", resp.StatusCode, first)
	}

	// same pubkey enrolls to the same agent id
	resp, err = http.Post(srv.URL+"/api/v1/enroll", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var second shared.EnrollResponse
	json.NewDecoder(resp.Body).Decode(&second)
	resp.Body.Close()
	if second.AgentID != first.AgentID {
		t.Errorf("re-enroll gave %s, want %s", second.AgentID, first.AgentID)
	}
}

func TestHeartbeatSavesFactsAndPublishes(t *testing.T) {
	api, store := newTestAPI()
	hub := NewHub(discardLog())
	api.Hub = hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	watcher := &watchClient{hub: hub, send: make(chan []byte, 4)}
	hub.register <- watcher

	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	ag := enrollTestAgent(t, srv)

	body, _ := json.Marshal(shared.HeartbeatRequest{
		AgentID:     ag.id,
		Info:        testAgentInfo(),
		Facts:       sampleFacts(),
		CollectedAt: 12345,
		Tags:        []string{"web"},
	})
	resp, err := srv.Client().Do(signedReq(t, ag, http.MethodPost, srv.URL, "/api/v1/heartbeat", body))
	if err != nil {
		t.Fatal(err)
	}
	var hbResp shared.HeartbeatResponse
	json.NewDecoder(resp.Body).Decode(&hbResp)
	resp.Body.Close()
	if resp.StatusCode != 200 || !hbResp.Ok {
		t.Fatalf("heartbeat status = %d resp = %+v", resp.StatusCode, hbResp)
	}

	payload, collectedAt, err := store.LatestFacts(ag.id)
	if err != nil {
		t.Fatal(err)
	}
	if collectedAt != 12345 {
		t.Errorf("collectedAt = %d, want 12345", collectedAt)
	}
	if !strings.Contains(payload, `"hostname":"web01"`) {
		t.Errorf("payload = %q", payload)
	}

	select {
	case msg := <-watcher.send:
		var ev FactEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("event is not JSON: %v", err)
		}
		if ev.AgentID != ag.id || ev.Hostname != "web01" || ev.CollectedAt != 12345 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fact event published")
	}
}

func TestHeartbeatAuthFailures(t *testing.T) {
	api, _ := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	ag := enrollTestAgent(t, srv)
	body, _ := json.Marshal(shared.HeartbeatRequest{AgentID: ag.id, Info: testAgentInfo()})

	// no auth headers at all
	resp, err := http.Post(srv.URL+"/api/v1/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("unsigned status = %d, want 401", resp.StatusCode)
	}

	// stale timestamp
	req := signedReq(t, ag, http.MethodPost, srv.URL, "/api/v1/heartbeat", body)
	old := strconv.FormatInt(time.Now().Unix()-700, 10)
	bodySha := shared.BodySHA256(body)
	req.Header.Set("X-Timestamp", old)
	req.Header.Set("X-Signature", shared.Sign(ag.priv, old, http.MethodPost, "/api/v1/heartbeat", bodySha))
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("stale timestamp status = %d, want 401", resp.StatusCode)
	}

	// signature over a different body than the one sent
	req = signedReq(t, ag, http.MethodPost, srv.URL, "/api/v1/heartbeat", body)
	req.Body = io.NopCloser(bytes.NewReader([]byte(`{"agent_id":"evil"}`)))
	req.ContentLength = int64(len(`{"agent_id":"evil"}`))
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("body tamper status = %d, want 401", resp.StatusCode)
	}

	// garbage signature
	req = signedReq(t, ag, http.MethodPost, srv.URL, "/api/v1/heartbeat", body)
	req.Header.Set("X-Signature", "AAAA")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("bad signature status = %d, want 401", resp.StatusCode)
	}
}

func TestPubkeyFallbackSetsCanonicalID(t *testing.T) {
	api, store := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	ag := enrollTestAgent(t, srv)

	// agent lost its id but still has its key
	stale := ag
	stale.id = "stale-id"
	body, _ := json.Marshal(shared.HeartbeatRequest{AgentID: "stale-id", Info: testAgentInfo(), Facts: sampleFacts()})
	resp, err := srv.Client().Do(signedReq(t, stale, http.MethodPost, srv.URL, "/api/v1/heartbeat", body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("fallback heartbeat status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Canonical-Agent-Id"); got != ag.id {
		t.Errorf("X-Canonical-Agent-Id = %q, want %q", got, ag.id)
	}

	// snapshot landed under the canonical id, not the stale one
	payload, _, err := store.LatestFacts(ag.id)
	if err != nil || payload == "" {
		t.Errorf("no snapshot under canonical id: %q, %v", payload, err)
	}
}

func TestJobRoundTrip(t *testing.T) {
	api, _ := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	ag := enrollTestAgent(t, srv)

	// submit needs the admin key
	submitBody, _ := json.Marshal(shared.SubmitJobRequest{TargetAgentID: ag.id, Command: "uptime", Shell: "bash"})
	resp, err := http.Post(srv.URL+"/api/v1/admin/jobs/submit", "application/json", bytes.NewReader(submitBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("keyless submit status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/admin/jobs/submit", bytes.NewReader(submitBody))
	req.Header.Set("X-Admin-Key", "admin-xyz")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var submitResp struct {
		Ok    bool   `json:"ok"`
		JobID string `json:"job_id"`
	}
	json.NewDecoder(resp.Body).Decode(&submitResp)
	resp.Body.Close()
	if resp.StatusCode != 200 || !submitResp.Ok || submitResp.JobID == "" {
		t.Fatalf("submit status = %d resp = %+v", resp.StatusCode, submitResp)
	}

	// unsigned poll is rejected
	resp, err = http.Get(srv.URL + "/api/v1/jobs/poll?agent_id=" + ag.id)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Errorf("unsigned poll status = %d, want 401", resp.StatusCode)
	}

	// signed poll drains the queue; kind and timeout were defaulted
	resp, err = srv.Client().Do(signedReq(t, ag, http.MethodGet, srv.URL, "/api/v1/jobs/poll?agent_id="+ag.id, nil))
	if err != nil {
		t.Fatal(err)
	}
	var poll shared.JobsPollResponse
	json.NewDecoder(resp.Body).Decode(&poll)
	resp.Body.Close()
	if resp.StatusCode != 200 || len(poll.Jobs) != 1 {
		t.Fatalf("poll status = %d jobs = %v", resp.StatusCode, poll.Jobs)
	}
	job := poll.Jobs[0]
	if job.JobID != submitResp.JobID || job.Kind != shared.JobKindCommand || job.TimeoutSeconds != 30 {
		t.Errorf("job = %+v", job)
	}

	resp, err = srv.Client().Do(signedReq(t, ag, http.MethodGet, srv.URL, "/api/v1/jobs/poll?agent_id="+ag.id, nil))
	if err != nil {
		t.Fatal(err)
	}
	json.NewDecoder(resp.Body).Decode(&poll)
	resp.Body.Close()
	if len(poll.Jobs) != 0 {
		t.Errorf("second poll = %v, want empty", poll.Jobs)
	}

	// report the result, then fetch it as admin
	resBody, _ := json.Marshal(shared.JobResult{
		JobID: job.JobID, AgentID: ag.id, ExitCode: 0, Stdout: "up 3 days", StartedAt: 1, FinishedAt: 2,
	})
	resp, err = srv.Client().Do(signedReq(t, ag, http.MethodPost, srv.URL, "/api/v1/jobs/result", resBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("result status = %d", resp.StatusCode)
	}

	resp = adminGet(t, srv, "/api/v1/admin/jobs/result?job_id="+job.JobID)
	var got shared.JobResult
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if resp.StatusCode != 200 || got.Stdout != "up 3 days" {
		t.Errorf("admin result status = %d got = %+v", resp.StatusCode, got)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	api, _ := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing target", `{"command":"uptime"}`, 400},
		{"unknown kind", `{"target_agent_id":"a-1","kind":"destroy"}`, 400},
		{"bad json", `{`, 400},
	}
	for _, c := range cases {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/admin/jobs/submit", strings.NewReader(c.body))
		req.Header.Set("X-Admin-Key", "admin-xyz")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Errorf("%s: status = %d, want %d", c.name, resp.StatusCode, c.want)
		}
	}
}

func TestAdminAgentFactsView(t *testing.T) {
	api, store := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	ag := enrollTestAgent(t, srv)

	resp := adminGet(t, srv, "/api/v1/admin/agents/facts?agent_id="+ag.id)
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("no facts yet status = %d, want 404", resp.StatusCode)
	}

	payload, _ := json.Marshal(sampleFacts())
	if err := store.SaveFacts(ag.id, 12345, string(payload)); err != nil {
		t.Fatal(err)
	}

	resp = adminGet(t, srv, "/api/v1/admin/agents/facts?agent_id="+ag.id)
	var view AgentFactsView
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("view status = %d", resp.StatusCode)
	}
	if view.Hostname != "web01" || view.FQDN != "web01.example.com" {
		t.Errorf("view identity = %+v", view)
	}
	if view.Processors != 8 || view.MemoryTotalKB != 16384000 {
		t.Errorf("view numbers = %+v", view)
	}
	if !view.SELinux || view.SwapSize != "8.00 GB" {
		t.Errorf("view selinux/swap = %+v", view)
	}
	if view.CollectedAt != 12345 {
		t.Errorf("view.CollectedAt = %d", view.CollectedAt)
	}

	resp = adminGet(t, srv, "/api/v1/admin/agents/facts?agent_id=nope")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown agent status = %d, want 404", resp.StatusCode)
	}

	// raw passthrough returns the snapshot verbatim
	resp = adminGet(t, srv, "/api/v1/admin/agents/facts/raw?agent_id="+ag.id)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(raw) != string(payload) {
		t.Errorf("raw status = %d body = %q", resp.StatusCode, raw)
	}
}

func TestAdminListAgentsAndStats(t *testing.T) {
	api, store := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	ag := enrollTestAgent(t, srv)
	_ = store.SaveFacts(ag.id, 1, "{}")

	resp := adminGet(t, srv, "/api/v1/admin/agents")
	var list struct {
		Agents []agentSummary `json:"agents"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if resp.StatusCode != 200 || len(list.Agents) != 1 {
		t.Fatalf("list status = %d agents = %v", resp.StatusCode, list.Agents)
	}
	if list.Agents[0].AgentID != ag.id || list.Agents[0].Hostname != "web01" {
		t.Errorf("summary = %+v", list.Agents[0])
	}

	resp = adminGet(t, srv, "/api/v1/admin/stats")
	var st StoreStats
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if resp.StatusCode != 200 || st.Agents != 1 || st.Snapshots != 1 {
		t.Errorf("stats status = %d st = %+v", resp.StatusCode, st)
	}
}

func TestAdminEndpointsDisabledWithoutKey(t *testing.T) {
	store := NewMemStore()
	api := &API{Log: discardLog(), Store: store, EnrollToken: "tok-123"}
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/admin/agents")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI()
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}
