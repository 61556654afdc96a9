package server

import (
	"sync"
	"time"

	"hostfact/internal/shared"

	"github.com/google/uuid"
)

type AgentRecord struct {
	AgentID   string
	PublicKey string // base64
	Info      shared.AgentInfo
	Tags      []string
	CreatedAt int64
	LastSeen  int64
}

// StoreStats is the shape behind the admin stats endpoint.
type StoreStats struct {
	Agents     int64 `json:"agents"`
	Jobs       int64 `json:"jobs"`
	QueuedJobs int64 `json:"queued_jobs"`
	Snapshots  int64 `json:"fact_snapshots"`
}

// Store is what the API needs from persistence. SQLiteStore is the real
// one; MemStore backs tests and throwaway servers. A nil *AgentRecord with
// a nil error means not found.
type Store interface {
	CreateAgent(publicKey string, info shared.AgentInfo, tags []string) (string, error)
	GetAgentByID(agentID string) (*AgentRecord, error)
	GetAgentByPubKey(publicKey string) (*AgentRecord, error)
	UpdateAgentSeen(agentID string, info shared.AgentInfo, tags []string) error
	ListAgents() ([]*AgentRecord, error)

	QueueJob(agentID string, job shared.Job) error
	DequeueJobs(agentID string, max int) ([]shared.Job, error)
	AddResult(res shared.JobResult) error
	GetResult(jobID string) (*shared.JobResult, error)

	SaveFacts(agentID string, collectedAt int64, payloadJSON string) error
	LatestFacts(agentID string) (string, int64, error)

	Stats() (StoreStats, error)
}

func newUUID() string {
	return uuid.NewString()
}

type factRow struct {
	collectedAt int64
	payload     string
}

type MemStore struct {
	mu sync.Mutex

	agents      map[string]*AgentRecord
	jobsByAgent map[string][]shared.Job
	jobsTotal   int64
	results     map[string]shared.JobResult
	facts       map[string][]factRow
}

func NewMemStore() *MemStore {
	return &MemStore{
		agents:      map[string]*AgentRecord{},
		jobsByAgent: map[string][]shared.Job{},
		results:     map[string]shared.JobResult{},
		facts:       map[string][]factRow{},
	}
}

func (s *MemStore) CreateAgent(publicKey string, info shared.AgentInfo, tags []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.agents {
		if rec.PublicKey == publicKey {
			rec.Info = info
			rec.Tags = tags
			rec.LastSeen = time.Now().Unix()
			return rec.AgentID, nil
		}
	}
	now := time.Now().Unix()
	rec := &AgentRecord{
		AgentID:   newUUID(),
		PublicKey: publicKey,
		Info:      info,
		Tags:      tags,
		CreatedAt: now,
		LastSeen:  now,
	}
	s.agents[rec.AgentID] = rec
	return rec.AgentID, nil
}

func (s *MemStore) GetAgentByID(agentID string) (*AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[agentID], nil
}

func (s *MemStore) GetAgentByPubKey(publicKey string) (*AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.agents {
		if rec.PublicKey == publicKey {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *MemStore) UpdateAgentSeen(agentID string, info shared.AgentInfo, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return nil
	}
	rec.Info = info
	rec.Tags = tags
	rec.LastSeen = time.Now().Unix()
	return nil
}

func (s *MemStore) ListAgents() ([]*AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemStore) QueueJob(agentID string, job shared.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsByAgent[agentID] = append(s.jobsByAgent[agentID], job)
	s.jobsTotal++
	return nil
}

func (s *MemStore) DequeueJobs(agentID string, max int) ([]shared.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.jobsByAgent[agentID]
	if len(jobs) == 0 {
		return nil, nil
	}
	if max <= 0 || max > len(jobs) {
		max = len(jobs)
	}
	out := jobs[:max]
	s.jobsByAgent[agentID] = jobs[max:]
	return out, nil
}

func (s *MemStore) AddResult(res shared.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.JobID] = res
	return nil
}

func (s *MemStore) GetResult(jobID string) (*shared.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[jobID]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (s *MemStore) SaveFacts(agentID string, collectedAt int64, payloadJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[agentID] = append(s.facts[agentID], factRow{collectedAt: collectedAt, payload: payloadJSON})
	return nil
}

func (s *MemStore) LatestFacts(agentID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.facts[agentID]
	if len(rows) == 0 {
		return "", 0, nil
	}
	last := rows[len(rows)-1]
	return last.payload, last.collectedAt, nil
}

func (s *MemStore) Stats() (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var queued, snaps int64
	for _, jobs := range s.jobsByAgent {
		queued += int64(len(jobs))
	}
	for _, rows := range s.facts {
		snaps += int64(len(rows))
	}
	return StoreStats{
		Agents:     int64(len(s.agents)),
		Jobs:       s.jobsTotal,
		QueuedJobs: queued,
		Snapshots:  snaps,
	}, nil
}
