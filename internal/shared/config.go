package shared

import (
	"encoding/json"
	"os"
)

type AgentConfig struct {
	ServerURL        string   `json:"server_url"`
	EnrollToken      string   `json:"enroll_token"`
	AgentID          string   `json:"agent_id"`
	PrivateKeyPath   string   `json:"private_key_path"`
	HeartbeatSeconds int      `json:"heartbeat_seconds"`
	PollSeconds      int      `json:"poll_seconds"`
	FactsTTLSeconds  int      `json:"facts_ttl_seconds"`
	Tags             []string `json:"tags"`
	LogLevel         string   `json:"log_level"`
	LogFile          string   `json:"log_file"`
}

func LoadAgentConfig(path string) (*AgentConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c AgentConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}

// ApplyDefaults fills the timing fields a hand-written config may omit.
func (c *AgentConfig) ApplyDefaults() {
	if c.HeartbeatSeconds <= 0 {
		c.HeartbeatSeconds = 30
	}
	if c.PollSeconds <= 0 {
		c.PollSeconds = 10
	}
	if c.FactsTTLSeconds <= 0 {
		c.FactsTTLSeconds = 600
	}
}

func SaveAgentConfig(path string, c *AgentConfig) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0600)
}
