package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"hostfact/internal/shared"
)

type SQLiteStore struct {
	DB *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

func (s *SQLiteStore) CreateAgent(publicKey string, info shared.AgentInfo, tags []string) (string, error) {
	// enroll is idempotent per pubkey
	if rec, _ := s.GetAgentByPubKey(publicKey); rec != nil {
		_ = s.UpdateAgentSeen(rec.AgentID, info, tags)
		return rec.AgentID, nil
	}

	agentID := newUUID()
	now := time.Now().Unix()
	tagsJSON, _ := json.Marshal(tags)

	_, err := s.DB.Exec(
		`INSERT INTO agents (id, public_key, hostname, os, arch, tags_json, created_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID, publicKey, info.Hostname, info.OS, info.Arch, string(tagsJSON), now, now,
	)
	return agentID, err
}

func (s *SQLiteStore) GetAgentByID(agentID string) (*AgentRecord, error) {
	row := s.DB.QueryRow(
		`SELECT id, public_key, hostname, os, arch, tags_json, created_at, last_seen
		 FROM agents WHERE id = ?`, agentID,
	)
	return scanAgent(row)
}

func (s *SQLiteStore) GetAgentByPubKey(publicKey string) (*AgentRecord, error) {
	row := s.DB.QueryRow(
		`SELECT id, public_key, hostname, os, arch, tags_json, created_at, last_seen
		 FROM agents WHERE public_key = ?`, publicKey,
	)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*AgentRecord, error) {
	var rec AgentRecord
	var tagsJSON string
	err := row.Scan(&rec.AgentID, &rec.PublicKey, &rec.Info.Hostname, &rec.Info.OS,
		&rec.Info.Arch, &tagsJSON, &rec.CreatedAt, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
	return &rec, nil
}

func (s *SQLiteStore) UpdateAgentSeen(agentID string, info shared.AgentInfo, tags []string) error {
	now := time.Now().Unix()
	tagsJSON, _ := json.Marshal(tags)

	_, err := s.DB.Exec(
		`UPDATE agents
		 SET hostname=?, os=?, arch=?, tags_json=?, last_seen=?
		 WHERE id=?`,
		info.Hostname, info.OS, info.Arch, string(tagsJSON), now, agentID,
	)
	return err
}

func (s *SQLiteStore) ListAgents() ([]*AgentRecord, error) {
	rows, err := s.DB.Query(
		`SELECT id, public_key, hostname, os, arch, tags_json, created_at, last_seen
		 FROM agents ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		var rec AgentRecord
		var tagsJSON string
		err := rows.Scan(&rec.AgentID, &rec.PublicKey, &rec.Info.Hostname, &rec.Info.OS,
			&rec.Info.Arch, &tagsJSON, &rec.CreatedAt, &rec.LastSeen)
		if err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueueJob(agentID string, job shared.Job) error {
	now := time.Now().Unix()

	_, err := s.DB.Exec(
		`INSERT INTO jobs (id, target_agent_id, kind, shell, command, timeout_seconds, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'queued', ?)`,
		job.JobID, agentID, job.Kind, job.Shell, job.Command, job.TimeoutSeconds, now,
	)
	return err
}

func (s *SQLiteStore) DequeueJobs(agentID string, max int) ([]shared.Job, error) {
	if max <= 0 {
		max = 5
	}

	rows, err := s.DB.Query(
		`SELECT id, kind, shell, command, timeout_seconds
		 FROM jobs
		 WHERE target_agent_id = ? AND status = 'queued'
		 ORDER BY created_at
		 LIMIT ?`, agentID, max,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []shared.Job
	for rows.Next() {
		var j shared.Job
		if err := rows.Scan(&j.JobID, &j.Kind, &j.Shell, &j.Command, &j.TimeoutSeconds); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, j := range jobs {
		_, _ = s.DB.Exec(`UPDATE jobs SET status='running', started_at=? WHERE id=?`, now, j.JobID)
	}

	return jobs, nil
}

func (s *SQLiteStore) AddResult(res shared.JobResult) error {
	_, err := s.DB.Exec(
		`INSERT OR REPLACE INTO job_results (job_id, agent_id, exit_code, stdout, stderr, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.JobID, res.AgentID, res.ExitCode, res.Stdout, res.Stderr, res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return err
	}

	status := "done"
	if res.ExitCode != 0 {
		status = "failed"
	}
	_, _ = s.DB.Exec(`UPDATE jobs SET status=?, finished_at=? WHERE id=?`, status, res.FinishedAt, res.JobID)
	return nil
}

func (s *SQLiteStore) GetResult(jobID string) (*shared.JobResult, error) {
	row := s.DB.QueryRow(
		`SELECT job_id, agent_id, exit_code, stdout, stderr, started_at, finished_at
		 FROM job_results WHERE job_id = ?`, jobID,
	)

	var res shared.JobResult
	err := row.Scan(&res.JobID, &res.AgentID, &res.ExitCode, &res.Stdout, &res.Stderr, &res.StartedAt, &res.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *SQLiteStore) SaveFacts(agentID string, collectedAt int64, payloadJSON string) error {
	now := time.Now().Unix()

	_, err := s.DB.Exec(
		`INSERT INTO fact_snapshots (id, agent_id, collected_at, created_at, payload_json)
		 VALUES (?, ?, ?, ?, ?)`,
		newUUID(), agentID, collectedAt, now, payloadJSON,
	)
	return err
}

func (s *SQLiteStore) LatestFacts(agentID string) (string, int64, error) {
	row := s.DB.QueryRow(
		`SELECT payload_json, collected_at
		 FROM fact_snapshots
		 WHERE agent_id=?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		agentID,
	)

	var payload string
	var collectedAt int64
	if err := row.Scan(&payload, &collectedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, err
	}
	return payload, collectedAt, nil
}

func (s *SQLiteStore) Stats() (StoreStats, error) {
	var st StoreStats
	counts := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM agents`, &st.Agents},
		{`SELECT COUNT(*) FROM jobs`, &st.Jobs},
		{`SELECT COUNT(*) FROM jobs WHERE status='queued'`, &st.QueuedJobs},
		{`SELECT COUNT(*) FROM fact_snapshots`, &st.Snapshots},
	}
	for _, c := range counts {
		if err := s.DB.QueryRow(c.query).Scan(c.dst); err != nil {
			return st, err
		}
	}
	return st, nil
}
