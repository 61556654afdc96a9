package server

import "hostfact/internal/facts"

// AgentFactsView flattens the interesting slice of a fact snapshot for
// dashboard consumers that do not want the whole vocabulary.
type AgentFactsView struct {
	AgentID  string `json:"agent_id"`
	Hostname string `json:"hostname"`
	FQDN     string `json:"fqdn"`
	Domain   string `json:"domain"`

	OS        string `json:"os"`
	OSFamily  string `json:"os_family"`
	OSRelease string `json:"os_release"`

	Kernel        string `json:"kernel"`
	KernelRelease string `json:"kernel_release"`
	Architecture  string `json:"architecture"`

	Processors    int64 `json:"processors"`
	MemoryTotalKB int64 `json:"memory_total_kb"`
	MemoryFreeKB  int64 `json:"memory_free_kb"`

	SwapSize string `json:"swap_size"`
	SwapFree string `json:"swap_free"`

	UptimeSeconds int64  `json:"uptime_seconds"`
	IPAddress     string `json:"ip_address"`
	MACAddress    string `json:"mac_address"`
	Interfaces    string `json:"interfaces"`
	Timezone      string `json:"timezone"`
	SELinux       bool   `json:"selinux"`

	CollectedAt int64    `json:"collected_at"`
	LastSeen    int64    `json:"last_seen"`
	Tags        []string `json:"tags"`
}

func NewAgentFactsView(rec *AgentRecord, fs facts.FactSet, collectedAt int64) AgentFactsView {
	return AgentFactsView{
		AgentID:  rec.AgentID,
		Hostname: fs.String("hostname"),
		FQDN:     fs.String("fqdn"),
		Domain:   fs.String("domain"),

		OS:        fs.String("operatingsystem"),
		OSFamily:  fs.String("osfamily"),
		OSRelease: fs.String("operatingsystemrelease"),

		Kernel:        fs.String("kernel"),
		KernelRelease: fs.String("kernelrelease"),
		Architecture:  fs.String("architecture"),

		Processors:    fs.Int("processorcount"),
		MemoryTotalKB: fs.Int("memorytotal"),
		MemoryFreeKB:  fs.Int("memoryfree"),

		SwapSize: fs.String("swapsize"),
		SwapFree: fs.String("swapfree"),

		UptimeSeconds: fs.Int("uptime_seconds"),
		IPAddress:     fs.String("ipaddress"),
		MACAddress:    fs.String("macaddress"),
		Interfaces:    fs.String("interfaces"),
		Timezone:      fs.String("timezone"),
		SELinux:       fs.Bool("selinux"),

		CollectedAt: collectedAt,
		LastSeen:    rec.LastSeen,
		Tags:        rec.Tags,
	}
}
