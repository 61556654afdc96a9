package agent

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"hostfact/internal/cmdrun"
	"hostfact/internal/facts"
	"hostfact/internal/osinfo"
	"hostfact/internal/shared"
)

// Agent owns the enrollment identity, the signed transport to the server
// and the fact cache. It is driven by a single loop, so the cache needs
// no locking.
type Agent struct {
	ConfigPath string
	Cfg        *shared.AgentConfig
	Log        *slog.Logger
	Priv       ed25519.PrivateKey
	Client     *http.Client

	collect func(ctx context.Context) facts.FactSet

	cache       facts.FactSet
	collectedAt int64
}

func New(configPath string, log *slog.Logger) (*Agent, error) {
	cfg, err := shared.LoadAgentConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		ConfigPath: configPath,
		Cfg:        cfg,
		Log:        log,
		Client:     &http.Client{Timeout: 20 * time.Second},
	}
	a.collect = a.collectLocal
	if cfg.PrivateKeyPath == "" {
		cfg.PrivateKeyPath = defaultKeyPath()
	}
	if err := a.ensureKey(); err != nil {
		return nil, err
	}
	return a, nil
}

func defaultKeyPath() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\HostFact\agent.key`
	}
	return `/etc/hostfact/agent.key`
}

func (a *Agent) ensureKey() error {
	b, err := os.ReadFile(a.Cfg.PrivateKeyPath)
	if err == nil {
		priv, err := shared.DecodePrivKey(strings.TrimSpace(string(b)))
		if err != nil {
			return err
		}
		a.Priv = priv
		return nil
	}

	_ = os.MkdirAll(filepath.Dir(a.Cfg.PrivateKeyPath), 0700)

	_, privB64, err := shared.GenKeypair()
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.Cfg.PrivateKeyPath, []byte(privB64), 0600); err != nil {
		return err
	}
	priv, err := shared.DecodePrivKey(privB64)
	if err != nil {
		return err
	}
	a.Priv = priv
	a.Log.Info("generated agent keypair", "path", a.Cfg.PrivateKeyPath)
	return nil
}

// EnrollIfNeeded exchanges the one-time enroll token for an agent id and
// clears the token from the saved config.
func (a *Agent) EnrollIfNeeded(ctx context.Context) error {
	if a.Cfg.AgentID != "" {
		return nil
	}
	if a.Cfg.EnrollToken == "" {
		return errors.New("missing enroll_token and no agent_id")
	}

	pub := a.Priv.Public().(ed25519.PublicKey)
	req := shared.EnrollRequest{
		EnrollToken: a.Cfg.EnrollToken,
		PublicKey:   base64.StdEncoding.EncodeToString(pub),
		Info:        a.localInfo(),
		Tags:        a.Cfg.Tags,
	}
	body, _ := json.Marshal(req)

	url := strings.TrimRight(a.Cfg.ServerURL, "/") + "/api/v1/enroll"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return errors.New("enroll failed: " + string(b))
	}

	var er shared.EnrollResponse
	if err := json.Unmarshal(b, &er); err != nil {
		return err
	}

	a.Cfg.AgentID = er.AgentID
	a.Cfg.EnrollToken = "" // one-time use
	if err := shared.SaveAgentConfig(a.ConfigPath, a.Cfg); err != nil {
		return err
	}
	a.Log.Info("enrolled", "agent_id", er.AgentID)
	return nil
}

func (a *Agent) localInfo() shared.AgentInfo {
	return shared.AgentInfo{Hostname: hostname(), OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// CollectFacts returns the cached fact set while it is younger than
// facts_ttl_seconds, collecting a fresh one otherwise.
func (a *Agent) CollectFacts(ctx context.Context) (facts.FactSet, int64) {
	now := time.Now().Unix()
	if a.cache != nil && now-a.collectedAt < int64(a.Cfg.FactsTTLSeconds) {
		return a.cache, a.collectedAt
	}
	a.cache = a.collect(ctx)
	a.collectedAt = now
	a.Log.Debug("facts collected", "count", len(a.cache))
	return a.cache, a.collectedAt
}

// InvalidateFacts drops the cache so the next heartbeat collects fresh.
func (a *Agent) InvalidateFacts() {
	a.cache = nil
	a.collectedAt = 0
}

func (a *Agent) collectLocal(ctx context.Context) facts.FactSet {
	run := cmdrun.Local{}
	info := osinfo.Detect(ctx, a.Log, run)
	return facts.NewProvider(ctx, a.Log, run, info).CollectAll(ctx)
}

// signedRequest signs method, path and body hash with the agent key. The
// query string is not part of the signature.
func (a *Agent) signedRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	url := strings.TrimRight(a.Cfg.ServerURL, "/") + path
	signPath := path
	if i := strings.IndexByte(signPath, '?'); i >= 0 {
		signPath = signPath[:i]
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	pub := a.Priv.Public().(ed25519.PublicKey)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	bodySha := shared.BodySHA256(body)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", a.Cfg.AgentID)
	req.Header.Set("X-PubKey", base64.StdEncoding.EncodeToString(pub))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Body-Sha256", bodySha)
	req.Header.Set("X-Signature", shared.Sign(a.Priv, ts, method, signPath, bodySha))
	return req, nil
}

// adoptCanonicalID persists the server's id when ours went stale, for
// example after a restore from an image.
func (a *Agent) adoptCanonicalID(resp *http.Response) {
	canon := resp.Header.Get("X-Canonical-Agent-Id")
	if canon == "" || canon == a.Cfg.AgentID {
		return
	}
	a.Log.Warn("server remapped agent id", "old", a.Cfg.AgentID, "new", canon)
	a.Cfg.AgentID = canon
	if err := shared.SaveAgentConfig(a.ConfigPath, a.Cfg); err != nil {
		a.Log.Error("cannot save config", "err", err)
	}
}

func (a *Agent) SendHeartbeat(ctx context.Context) error {
	fs, collectedAt := a.CollectFacts(ctx)

	hb := shared.HeartbeatRequest{
		AgentID:     a.Cfg.AgentID,
		Info:        a.localInfo(),
		Facts:       fs,
		CollectedAt: collectedAt,
		Tags:        a.Cfg.Tags,
	}
	body, _ := json.Marshal(hb)

	req, err := a.signedRequest(ctx, http.MethodPost, "/api/v1/heartbeat", body)
	if err != nil {
		return err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return errors.New("heartbeat failed: " + string(b))
	}
	a.adoptCanonicalID(resp)
	return nil
}

func (a *Agent) PollJobs(ctx context.Context) ([]shared.Job, error) {
	req, err := a.signedRequest(ctx, http.MethodGet, "/api/v1/jobs/poll?agent_id="+a.Cfg.AgentID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return nil, errors.New("poll failed: " + string(b))
	}
	a.adoptCanonicalID(resp)

	var pr shared.JobsPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, err
	}
	return pr.Jobs, nil
}

func (a *Agent) RunJob(ctx context.Context, job shared.Job) shared.JobResult {
	start := time.Now().Unix()

	var exitCode int
	var out, errOut string
	switch job.Kind {
	case shared.JobKindRefresh:
		a.InvalidateFacts()
		if err := a.SendHeartbeat(ctx); err != nil {
			exitCode, errOut = 1, err.Error()
		} else {
			out = "facts refreshed"
		}
	default:
		exitCode, out, errOut = execCommand(ctx, job)
	}

	return shared.JobResult{
		JobID:      job.JobID,
		AgentID:    a.Cfg.AgentID,
		ExitCode:   exitCode,
		Stdout:     out,
		Stderr:     errOut,
		StartedAt:  start,
		FinishedAt: time.Now().Unix(),
	}
}

func execCommand(ctx context.Context, job shared.Job) (int, string, string) {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch strings.ToLower(job.Shell) {
	case "bash":
		cmd = exec.CommandContext(cctx, "bash", "-lc", job.Command)
	case "cmd":
		cmd = exec.CommandContext(cctx, "cmd.exe", "/C", job.Command)
	case "powershell":
		cmd = exec.CommandContext(cctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", job.Command)
	default:
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(cctx, "cmd.exe", "/C", job.Command)
		} else {
			cmd = exec.CommandContext(cctx, "bash", "-lc", job.Command)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitCode = 1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	}
	return exitCode, stdout.String(), stderr.String()
}

func (a *Agent) PostResult(ctx context.Context, res shared.JobResult) error {
	body, _ := json.Marshal(res)
	req, err := a.signedRequest(ctx, http.MethodPost, "/api/v1/jobs/result", body)
	if err != nil {
		return err
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return errors.New("post result failed: " + string(b))
	}
	return nil
}

// Run drives heartbeat and job polling until the context is canceled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.SendHeartbeat(ctx); err != nil {
		a.Log.Error("heartbeat failed", "err", err)
	}

	heartbeat := time.NewTicker(time.Duration(a.Cfg.HeartbeatSeconds) * time.Second)
	defer heartbeat.Stop()
	poll := time.NewTicker(time.Duration(a.Cfg.PollSeconds) * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-heartbeat.C:
			if err := a.SendHeartbeat(ctx); err != nil {
				a.Log.Error("heartbeat failed", "err", err)
			}

		case <-poll.C:
			jobs, err := a.PollJobs(ctx)
			if err != nil {
				a.Log.Error("poll failed", "err", err)
				continue
			}
			for _, job := range jobs {
				a.Log.Info("running job", "job_id", job.JobID, "kind", job.Kind)
				res := a.RunJob(ctx, job)
				if err := a.PostResult(ctx, res); err != nil {
					a.Log.Error("post result failed", "err", err)
				}
			}
		}
	}
}
