package facts

import (
	"context"
	"testing"

	"hostfact/internal/cmdrun"
	"hostfact/internal/osinfo"
)

func win10Info() osinfo.Info {
	return osinfo.Info{Kernel: "Windows", ID: "windows", Family: "windows", Release: "10.0.19041", Major: 10}
}

func seamedWindows(run cmdrun.Runner) *windowsProvider {
	p := newWindowsProvider(discard(), run, win10Info())
	p.base = seamedBase(win10Info())
	p.procIdent = func() string { return "Intel64 Family 6 Model 158 Stepping 10, GenuineIntel" }
	return p
}

func TestWindowsCollectAll(t *testing.T) {
	run := &fakeRunner{out: map[string]cmdrun.Result{
		winMemoryScript:   {Stdout: "8123456 16777216\r\n"},
		winPageFileScript: {Stdout: "4096 3072\r\n"},
		winUptimeScript:   {Stdout: "123456\r\n"},
	}}
	p := seamedWindows(run)
	fs := p.CollectAll(context.Background())

	if len(fs) != 29 {
		t.Errorf("collected %d facts, want 29: %v", len(fs), fs.Keys())
	}
	if _, ok := fs["selinux"]; ok {
		t.Error("selinux reported on windows")
	}
	if got := fs["architecture"]; got != "Intel64 Family 6 Model 158 Stepping 10, GenuineIntel" {
		t.Errorf("architecture = %v", got)
	}
	if got := fs["kernelrelease"]; got != "10.0.19041" {
		t.Errorf("kernelrelease = %v, want 10.0.19041", got)
	}
	if got := fs["kernelmajversion"]; got != "10.0" {
		t.Errorf("kernelmajversion = %v, want 10.0", got)
	}
	if got := fs["memoryfree"]; got != int64(8123456) {
		t.Errorf("memoryfree = %v, want first token 8123456", got)
	}
	if got := fs["memorytotal"]; got != int64(16777216) {
		t.Errorf("memorytotal = %v, want last token 16777216", got)
	}
	if got := fs["memorysize"]; got != int64(16777216) {
		t.Errorf("memorysize = %v, want 16777216", got)
	}
	if got := fs["swapsize"]; got != "4.00 GB" {
		t.Errorf("swapsize = %v, want 4.00 GB", got)
	}
	if got := fs["swapfree"]; got != "3.00 GB" {
		t.Errorf("swapfree = %v, want 3.00 GB", got)
	}
	if got := fs["uptime_seconds"]; got != int64(123456) {
		t.Errorf("uptime_seconds = %v, want 123456", got)
	}
	if got := fs["uptime_hours"]; got != int64(34) {
		t.Errorf("uptime_hours = %v, want 34", got)
	}
	if got := fs["uptime_days"]; got != int64(1) {
		t.Errorf("uptime_days = %v, want 1", got)
	}
	if got := fs["ipaddress"]; got != "10.0.0.99" {
		t.Errorf("ipaddress = %v, want hostname resolution 10.0.0.99", got)
	}
	if got := fs["netmask"]; got != "OS NOT SUPPORTED" {
		t.Errorf("netmask = %v, want OS NOT SUPPORTED", got)
	}
	if got := fs["interfaces"]; got != "OS NOT SUPPORTED" {
		t.Errorf("interfaces = %v, want OS NOT SUPPORTED", got)
	}
}

func TestWindowsCollectAllDefaultsWhenQueriesFail(t *testing.T) {
	run := &fakeRunner{out: map[string]cmdrun.Result{
		winMemoryScript:   {Code: 1, Stderr: "access denied"},
		winPageFileScript: {Stdout: "garbage\r\n"},
	}}
	p := seamedWindows(run)
	fs := p.CollectAll(context.Background())

	for _, k := range []string{"uptime_seconds", "memorysize", "memoryfree", "memorytotal"} {
		if got := fs[k]; got != int64(0) {
			t.Errorf("fact %s = %v, want 0", k, got)
		}
	}
	for _, k := range []string{"swapsize", "swapfree"} {
		if got := fs[k]; got != "0.00 GB" {
			t.Errorf("fact %s = %v, want 0.00 GB", k, got)
		}
	}
}

func TestPickToken(t *testing.T) {
	cases := []struct {
		out  string
		last bool
		want string
	}{
		{"8123456 16777216\r\n", false, "8123456"},
		{"8123456 16777216\r\n", true, "16777216"},
		{"123456\r\n", false, "123456"},
		{"123456\r\n", true, "123456"},
		{"", false, ""},
		{"   \n", true, ""},
	}
	for _, c := range cases {
		if got := pickToken(c.out, c.last); got != c.want {
			t.Errorf("pickToken(%q, %v) = %q, want %q", c.out, c.last, got, c.want)
		}
	}
}
