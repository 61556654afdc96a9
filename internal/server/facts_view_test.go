package server

import (
	"reflect"
	"testing"

	"hostfact/internal/facts"
)

func TestNewAgentFactsView(t *testing.T) {
	rec := &AgentRecord{
		AgentID:  "a-1",
		Info:     testAgentInfo(),
		Tags:     []string{"web", "prod"},
		LastSeen: 999,
	}
	// numbers arrive as float64 after a JSON round trip
	fs := facts.FactSet{
		"hostname":               "web01",
		"fqdn":                   "web01.example.com",
		"domain":                 "example.com",
		"operatingsystem":        "centos",
		"osfamily":               "redhat",
		"operatingsystemrelease": "7.8.2003",
		"kernel":                 "Linux",
		"kernelrelease":          "3.10.0-1127.el7.x86_64",
		"architecture":           "x86_64",
		"processorcount":         float64(8),
		"memorytotal":            float64(16384000),
		"memoryfree":             float64(2048000),
		"swapsize":               "8.00 GB",
		"swapfree":               "8.00 GB",
		"uptime_seconds":         float64(35414),
		"ipaddress":              "10.0.0.5",
		"macaddress":             "52:54:00:AB:CD:EF",
		"interfaces":             "eth0,lo",
		"timezone":               "UTC",
		"selinux":                true,
	}

	got := NewAgentFactsView(rec, fs, 12345)
	want := AgentFactsView{
		AgentID:       "a-1",
		Hostname:      "web01",
		FQDN:          "web01.example.com",
		Domain:        "example.com",
		OS:            "centos",
		OSFamily:      "redhat",
		OSRelease:     "7.8.2003",
		Kernel:        "Linux",
		KernelRelease: "3.10.0-1127.el7.x86_64",
		Architecture:  "x86_64",
		Processors:    8,
		MemoryTotalKB: 16384000,
		MemoryFreeKB:  2048000,
		SwapSize:      "8.00 GB",
		SwapFree:      "8.00 GB",
		UptimeSeconds: 35414,
		IPAddress:     "10.0.0.5",
		MACAddress:    "52:54:00:AB:CD:EF",
		Interfaces:    "eth0,lo",
		Timezone:      "UTC",
		SELinux:       true,
		CollectedAt:   12345,
		LastSeen:      999,
		Tags:          []string{"web", "prod"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("view = %+v\nwant  %+v", got, want)
	}
}

func TestNewAgentFactsViewMissingKeys(t *testing.T) {
	rec := &AgentRecord{AgentID: "a-2", Info: testAgentInfo()}
	got := NewAgentFactsView(rec, facts.FactSet{}, 0)
	if got.Hostname != "" || got.Processors != 0 || got.SELinux {
		t.Errorf("empty snapshot view = %+v", got)
	}
}
