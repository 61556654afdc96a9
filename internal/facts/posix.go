package facts

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"hostfact/internal/cmdrun"
	"hostfact/internal/osinfo"
)

// netFormat selects which generation of interface-tool output the parsing
// rules expect. Resolved once at construction, never re-checked.
type netFormat int

const (
	netLegacy netFormat = iota // inet addr: / Mask: / Link encap:
	netModern                  // inet / netmask / flags=
)

// netFormatFor returns the modern rule set only for red hat family releases
// from major 7 on; everything else keeps the legacy markers.
func netFormatFor(info osinfo.Info) netFormat {
	if info.Family == "redhat" && info.Major >= 7 {
		return netModern
	}
	return netLegacy
}

const (
	ifconfigCmd  = "ifconfig"
	uptimeCmd    = "cat /proc/uptime"
	meminfoCmd   = "cat /proc/meminfo"
	sestatusCmd  = "/usr/sbin/sestatus"
	unameRelCmd  = "uname -r"
	unameProcCmd = "uname -p"
)

var (
	ipLegacyRe    = regexp.MustCompile(`(?: inet addr:)(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	ipModernRe    = regexp.MustCompile(`(?: inet )(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	maskLegacyRe  = regexp.MustCompile(`(?: Mask:)(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	maskModernRe  = regexp.MustCompile(`(?: netmask )(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`)
	ifaceLegacyRe = regexp.MustCompile(`(\w+)(?:.*Link encap:)`)
	ifaceModernRe = regexp.MustCompile(`(\w+)(?:.*flags=)`)

	uptimeRe    = regexp.MustCompile(`\d+`)
	memTotalRe  = regexp.MustCompile(`MemTotal:.*?(\d+) .*`)
	memFreeRe   = regexp.MustCompile(`MemFree:.*?(\d+) .*`)
	swapTotalRe = regexp.MustCompile(`SwapTotal:.*?(\d+) .*`)
	swapFreeRe  = regexp.MustCompile(`SwapFree:.*?(\d+) .*`)
	selinuxRe   = regexp.MustCompile(`(enforcing|permissive|enabled)`)
)

// posixProvider parses facts out of three snapshots taken at construction.
// Snapshots are never refreshed; build a new provider to re-read the host.
type posixProvider struct {
	base
	run    cmdrun.Runner
	format netFormat

	ifconfigData string
	uptimeData   string
	meminfoData  string
}

func newPosixProvider(ctx context.Context, log *slog.Logger, run cmdrun.Runner, info osinfo.Info) *posixProvider {
	return newPosixWithBase(ctx, run, newBase(log, info))
}

func newPosixWithBase(ctx context.Context, run cmdrun.Runner, b base) *posixProvider {
	p := &posixProvider{base: b, run: run, format: netFormatFor(b.os)}
	p.ifconfigData = p.capture(ctx, ifconfigCmd)
	p.uptimeData = p.capture(ctx, uptimeCmd)
	p.meminfoData = p.capture(ctx, meminfoCmd)
	return p
}

// capture returns a command's stdout, or "" with a warning when the command
// could not run at all. A non-zero exit still surfaces whatever it printed.
func (p *posixProvider) capture(ctx context.Context, command string) string {
	res, err := p.run.Run(ctx, command)
	if err != nil {
		p.log.Warn("cannot execute command", "command", command, "err", err)
		return ""
	}
	return res.Stdout
}

func (p *posixProvider) CollectAll(ctx context.Context) FactSet {
	fs := p.collect(ctx, p)
	fs["selinux"] = p.selinuxEnabled(ctx)
	fs["swapsize"] = convertKilobytesToGigabytes(p.swapSizeKB())
	fs["swapfree"] = convertKilobytesToGigabytes(p.swapFreeKB())
	return fs
}

func (p *posixProvider) architecture(ctx context.Context) string {
	res, err := p.run.Run(ctx, unameProcCmd)
	if err != nil {
		p.log.Warn("cannot execute command", "command", unameProcCmd, "err", err)
		return ""
	}
	arch := strings.TrimSpace(res.Stdout)
	if arch == "unknown" {
		return ""
	}
	return arch
}

func (p *posixProvider) kernelRelease(ctx context.Context) string {
	res, err := p.run.Run(ctx, unameRelCmd)
	if err != nil {
		p.log.Warn("cannot execute command", "command", unameRelCmd, "err", err)
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

func (p *posixProvider) ipAddress(ctx context.Context) string {
	re := ipLegacyRe
	if p.format == netModern {
		re = ipModernRe
	}
	ip := firstMatch(re, p.ifconfigData)
	if ip == "" {
		p.log.Warn("no ip address in interface listing, falling back to hostname resolution")
		return p.hostIPv4()
	}
	return ip
}

func (p *posixProvider) netmask(ctx context.Context) string {
	re := maskLegacyRe
	if p.format == netModern {
		re = maskModernRe
	}
	mask := firstMatch(re, p.ifconfigData)
	if mask == "" {
		p.log.Warn("no netmask in interface listing")
		return osNotSupported
	}
	return mask
}

func (p *posixProvider) interfaces(ctx context.Context) string {
	re := ifaceLegacyRe
	if p.format == netModern {
		re = ifaceModernRe
	}
	names := joinMatches(re, p.ifconfigData)
	if names == "" {
		p.log.Warn("no interface names in interface listing")
		return osNotSupported
	}
	return names
}

func (p *posixProvider) uptimeSeconds(ctx context.Context) int64 {
	return p.snapshotInt(uptimeRe, p.uptimeData, "uptime_seconds")
}

func (p *posixProvider) memorySizeKB(ctx context.Context) int64 {
	return p.snapshotInt(memTotalRe, p.meminfoData, "memorysize")
}

func (p *posixProvider) memoryFreeKB(ctx context.Context) int64 {
	return p.snapshotInt(memFreeRe, p.meminfoData, "memoryfree")
}

func (p *posixProvider) memoryTotalKB(ctx context.Context) int64 {
	return p.snapshotInt(memTotalRe, p.meminfoData, "memorytotal")
}

func (p *posixProvider) swapSizeKB() int64 {
	return p.snapshotInt(swapTotalRe, p.meminfoData, "swapsize")
}

func (p *posixProvider) swapFreeKB() int64 {
	return p.snapshotInt(swapFreeRe, p.meminfoData, "swapfree")
}

// snapshotInt extracts one labeled integer from a snapshot; parse failures
// degrade to 0.
func (p *posixProvider) snapshotInt(re *regexp.Regexp, data, fact string) int64 {
	n, err := strconv.ParseInt(firstMatch(re, data), 10, 64)
	if err != nil {
		p.log.Warn("cannot parse fact from snapshot", "fact", fact)
		return 0
	}
	return n
}

func (p *posixProvider) selinuxEnabled(ctx context.Context) bool {
	res, err := p.run.Run(ctx, sestatusCmd)
	if err != nil {
		p.log.Warn("cannot execute command", "command", sestatusCmd, "err", err)
		return false
	}
	return selinuxRe.MatchString(res.Stdout)
}

// firstMatch returns the first capture group of the first match, the whole
// match for group-less patterns, or "" when nothing matches.
func firstMatch(re *regexp.Regexp, data string) string {
	m := re.FindStringSubmatch(data)
	switch {
	case len(m) > 1:
		return m[1]
	case len(m) == 1:
		return m[0]
	}
	return ""
}

// joinMatches joins every match's first capture with commas, no trailing
// comma.
func joinMatches(re *regexp.Regexp, data string) string {
	var names []string
	for _, m := range re.FindAllStringSubmatch(data, -1) {
		if len(m) > 1 {
			names = append(names, m[1])
		} else {
			names = append(names, m[0])
		}
	}
	return strings.Join(names, ",")
}
