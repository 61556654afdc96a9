package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hostfact/internal/facts"
	"hostfact/internal/shared"

	"github.com/google/uuid"
)

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type API struct {
	Log         *slog.Logger
	Store       Store
	Hub         *Hub
	EnrollToken string
	AdminKey    string
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 2<<20))
}

// Routes assembles the full API surface.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.Health)
	mux.HandleFunc("/api/v1/enroll", a.Enroll)
	mux.HandleFunc("/api/v1/heartbeat", a.RequireAgentAuth(a.Heartbeat))
	mux.HandleFunc("/api/v1/jobs/poll", a.RequireAgentAuth(a.PollJobs))
	mux.HandleFunc("/api/v1/jobs/result", a.RequireAgentAuth(a.JobResult))
	mux.HandleFunc("/api/v1/admin/agents", a.RequireAdminKey(a.AdminListAgents))
	mux.HandleFunc("/api/v1/admin/agents/facts", a.RequireAdminKey(a.AdminAgentFacts))
	mux.HandleFunc("/api/v1/admin/agents/facts/raw", a.RequireAdminKey(a.AdminLatestFacts))
	mux.HandleFunc("/api/v1/admin/jobs/submit", a.RequireAdminKey(a.SubmitJob))
	mux.HandleFunc("/api/v1/admin/jobs/result", a.RequireAdminKey(a.AdminJobResult))
	mux.HandleFunc("/api/v1/admin/stats", a.RequireAdminKey(a.AdminStats))
	if a.Hub != nil {
		mux.HandleFunc("/api/v1/admin/watch", a.RequireAdminKey(a.Hub.ServeWatch))
	}
	return mux
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"ok": true})
}

func (a *API) Enroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad body"})
		return
	}

	var req shared.EnrollRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad json"})
		return
	}

	if req.EnrollToken == "" || req.EnrollToken != a.EnrollToken {
		writeJSON(w, 401, map[string]any{"error": "invalid enroll token"})
		return
	}
	if _, err := shared.DecodePubKey(req.PublicKey); err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad public key"})
		return
	}

	agentID, err := a.Store.CreateAgent(req.PublicKey, req.Info, req.Tags)
	if err != nil {
		a.Log.Error("enroll failed", "err", err)
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	a.Log.Info("agent enrolled", "agent_id", agentID, "hostname", req.Info.Hostname)

	writeJSON(w, 200, shared.EnrollResponse{
		AgentID:    agentID,
		ServerTime: time.Now().Unix(),
		Message:    "enrolled",
	})
}

// RequireAgentAuth verifies the request signature against the enrolled
// public key. When the claimed agent id is unknown it falls back to pubkey
// lookup and reports the canonical id through X-Canonical-Agent-Id.
func (a *API) RequireAgentAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get("X-Agent-Id")
		pubKeyB64 := r.Header.Get("X-PubKey")
		ts := r.Header.Get("X-Timestamp")
		sig := r.Header.Get("X-Signature")
		bodySha := r.Header.Get("X-Body-Sha256")

		a.Log.Debug("agent auth", "path", r.URL.Path, "agent_id", agentID, "pubkey_prefix", firstN(pubKeyB64, 16))

		if ts == "" || sig == "" || bodySha == "" {
			writeJSON(w, 401, map[string]any{"error": "missing auth headers"})
			return
		}

		tInt, err := strconv.ParseInt(ts, 10, 64)
		now := time.Now().Unix()
		if err != nil || tInt < now-600 || tInt > now+600 {
			writeJSON(w, 401, map[string]any{"error": "timestamp outside window"})
			return
		}

		// the signature covers the claimed hash; make sure the body matches it
		body, err := readBody(r)
		if err != nil {
			writeJSON(w, 400, map[string]any{"error": "bad body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		if shared.BodySHA256(body) != bodySha {
			writeJSON(w, 401, map[string]any{"error": "body hash mismatch"})
			return
		}

		var rec *AgentRecord
		if agentID != "" {
			rec, err = a.Store.GetAgentByID(agentID)
			if err != nil {
				writeJSON(w, 500, map[string]any{"error": "db error"})
				return
			}
		}

		if rec == nil && pubKeyB64 != "" {
			rec, err = a.Store.GetAgentByPubKey(pubKeyB64)
			if err != nil {
				writeJSON(w, 500, map[string]any{"error": "db error"})
				return
			}
			if rec != nil {
				r.Header.Set("X-Canonical-Agent-Id", rec.AgentID)
				w.Header().Set("X-Canonical-Agent-Id", rec.AgentID)
			}
		}

		if rec == nil {
			writeJSON(w, 401, map[string]any{"error": "unknown agent"})
			return
		}

		pub, err := shared.DecodePubKey(rec.PublicKey)
		if err != nil {
			writeJSON(w, 500, map[string]any{"error": "stored key decode failed"})
			return
		}

		if !shared.Verify(pub, sig, ts, r.Method, r.URL.Path, bodySha) {
			writeJSON(w, 401, map[string]any{"error": "bad signature"})
			return
		}

		next(w, r)
	}
}

// RequireAdminKey guards operator endpoints. The key comes from the
// X-Admin-Key header, or from ?key= for websocket clients that cannot set
// headers.
func (a *API) RequireAdminKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.AdminKey == "" {
			writeJSON(w, 503, map[string]any{"error": "admin endpoints disabled"})
			return
		}
		key := r.Header.Get("X-Admin-Key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.AdminKey)) != 1 {
			writeJSON(w, 401, map[string]any{"error": "bad admin key"})
			return
		}
		next(w, r)
	}
}

func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad body"})
		return
	}

	var hb shared.HeartbeatRequest
	if err := json.Unmarshal(body, &hb); err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad json"})
		return
	}

	// auth middleware may have re-associated the agent via pubkey
	if canon := r.Header.Get("X-Canonical-Agent-Id"); canon != "" {
		hb.AgentID = canon
	}

	if err := a.Store.UpdateAgentSeen(hb.AgentID, hb.Info, hb.Tags); err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}

	if len(hb.Facts) > 0 {
		collectedAt := hb.CollectedAt
		if collectedAt == 0 {
			collectedAt = time.Now().Unix()
		}
		payload, err := json.Marshal(hb.Facts)
		if err != nil {
			a.Log.Error("cannot marshal fact snapshot", "agent_id", hb.AgentID, "err", err)
		} else if err := a.Store.SaveFacts(hb.AgentID, collectedAt, string(payload)); err != nil {
			a.Log.Error("cannot save fact snapshot", "agent_id", hb.AgentID, "err", err)
		} else if a.Hub != nil {
			a.Hub.Publish(FactEvent{
				AgentID:     hb.AgentID,
				Hostname:    hb.Facts.String("hostname"),
				CollectedAt: collectedAt,
				Facts:       hb.Facts,
			})
		}
	}

	writeJSON(w, 200, shared.HeartbeatResponse{
		Ok:         true,
		ServerTime: time.Now().Unix(),
	})
}

func (a *API) PollJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	if canon := r.Header.Get("X-Canonical-Agent-Id"); canon != "" {
		agentID = canon
	}
	if agentID == "" {
		writeJSON(w, 400, map[string]any{"error": "missing agent_id"})
		return
	}

	jobs, err := a.Store.DequeueJobs(agentID, 5)
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}

	writeJSON(w, 200, shared.JobsPollResponse{Jobs: jobs})
}

func (a *API) JobResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad body"})
		return
	}
	var res shared.JobResult
	if err := json.Unmarshal(body, &res); err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad json"})
		return
	}

	if canon := r.Header.Get("X-Canonical-Agent-Id"); canon != "" {
		res.AgentID = canon
	}

	if err := a.Store.AddResult(res); err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	a.Log.Info("job finished", "job_id", res.JobID, "agent_id", res.AgentID, "exit_code", res.ExitCode)

	writeJSON(w, 200, map[string]any{"ok": true})
}

func (a *API) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad body"})
		return
	}
	var req shared.SubmitJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad json"})
		return
	}
	if strings.TrimSpace(req.TargetAgentID) == "" {
		writeJSON(w, 400, map[string]any{"error": "missing target_agent_id"})
		return
	}

	job := shared.Job{
		JobID:          uuid.NewString(),
		Kind:           req.Kind,
		Shell:          req.Shell,
		Command:        req.Command,
		TimeoutSeconds: req.TimeoutSeconds,
	}
	if job.Kind == "" {
		job.Kind = shared.JobKindCommand
	}
	if job.Kind != shared.JobKindCommand && job.Kind != shared.JobKindRefresh {
		writeJSON(w, 400, map[string]any{"error": "unknown job kind"})
		return
	}
	if job.TimeoutSeconds <= 0 {
		job.TimeoutSeconds = 30
	}

	if err := a.Store.QueueJob(req.TargetAgentID, job); err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	a.Log.Info("job queued", "job_id", job.JobID, "agent_id", req.TargetAgentID, "kind", job.Kind)

	writeJSON(w, 200, map[string]any{"ok": true, "job_id": job.JobID})
}

type agentSummary struct {
	AgentID  string   `json:"agent_id"`
	Hostname string   `json:"hostname"`
	OS       string   `json:"os"`
	Arch     string   `json:"arch"`
	Tags     []string `json:"tags"`
	LastSeen int64    `json:"last_seen"`
}

func (a *API) AdminListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	recs, err := a.Store.ListAgents()
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	out := make([]agentSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, agentSummary{
			AgentID:  rec.AgentID,
			Hostname: rec.Info.Hostname,
			OS:       rec.Info.OS,
			Arch:     rec.Info.Arch,
			Tags:     rec.Tags,
			LastSeen: rec.LastSeen,
		})
	}
	writeJSON(w, 200, map[string]any{"agents": out})
}

func (a *API) AdminAgentFacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, 400, map[string]any{"error": "missing agent_id"})
		return
	}
	rec, err := a.Store.GetAgentByID(agentID)
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	if rec == nil {
		writeJSON(w, 404, map[string]any{"error": "unknown agent"})
		return
	}
	payload, collectedAt, err := a.Store.LatestFacts(agentID)
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	if payload == "" {
		writeJSON(w, 404, map[string]any{"error": "no facts yet"})
		return
	}
	var fs facts.FactSet
	if err := json.Unmarshal([]byte(payload), &fs); err != nil {
		a.Log.Error("corrupt fact snapshot", "agent_id", agentID, "err", err)
		writeJSON(w, 500, map[string]any{"error": "corrupt snapshot"})
		return
	}
	writeJSON(w, 200, NewAgentFactsView(rec, fs, collectedAt))
}

// AdminLatestFacts returns the stored snapshot verbatim.
func (a *API) AdminLatestFacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeJSON(w, 400, map[string]any{"error": "missing agent_id"})
		return
	}
	payload, _, err := a.Store.LatestFacts(agentID)
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	if payload == "" {
		writeJSON(w, 404, map[string]any{"error": "no facts yet"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	_, _ = w.Write([]byte(payload))
}

func (a *API) AdminJobResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeJSON(w, 400, map[string]any{"error": "missing job_id"})
		return
	}
	res, err := a.Store.GetResult(jobID)
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	if res == nil {
		writeJSON(w, 404, map[string]any{"error": "no result yet"})
		return
	}
	writeJSON(w, 200, res)
}

func (a *API) AdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	st, err := a.Store.Stats()
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	writeJSON(w, 200, st)
}
