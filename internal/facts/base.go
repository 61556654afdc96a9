package facts

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"

	"hostfact/internal/cmdrun"
	"hostfact/internal/osinfo"
)

// base carries the OS-independent facts and the aggregate assembly shared
// by both variants. The function fields are seams: local providers use real
// host lookups, remote providers substitute command output captured at
// construction, tests substitute fixtures.
type base struct {
	log *slog.Logger
	os  osinfo.Info

	username func() string
	fqdn     func() string
	readMAC  func() string // one hardware address reading, "" when unavailable
	numCPU   func() int
	timezone func() string
	hostIPv4 func() string // hostname-based address resolution fallback
}

func newBase(log *slog.Logger, info osinfo.Info) base {
	return base{
		log:      log,
		os:       info,
		username: currentUsername,
		fqdn:     resolveFQDN,
		readMAC:  readHardwareAddr,
		numCPU:   runtime.NumCPU,
		timezone: localTimezone,
		hostIPv4: resolveHostIPv4,
	}
}

// newRemoteBase resolves the identity facts through run once, at
// construction, so later accessor calls stay snapshot-pure. The hardware
// address guard has no remote source and reports UNKNOWN.
func newRemoteBase(ctx context.Context, log *slog.Logger, run cmdrun.Runner, info osinfo.Info) base {
	b := newBase(log, info)

	username := remoteLine(ctx, log, run, "whoami")
	fqdn := remoteLine(ctx, log, run, "hostname -f")
	tz := remoteLine(ctx, log, run, "date +%Z")
	ncpu := 0
	if s := remoteLine(ctx, log, run, "nproc"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			ncpu = n
		} else {
			log.Warn("cannot parse nproc output", "output", s)
		}
	}

	b.username = func() string { return username }
	b.fqdn = func() string { return fqdn }
	b.readMAC = func() string { return "" }
	b.numCPU = func() int { return ncpu }
	b.timezone = func() string { return tz }
	b.hostIPv4 = func() string { return lookupIPv4(strings.ToLower(fqdn)) }
	return b
}

func remoteLine(ctx context.Context, log *slog.Logger, run cmdrun.Runner, command string) string {
	res, err := run.Run(ctx, command)
	if err != nil || res.Code != 0 {
		log.Warn("remote command failed", "command", command, "err", err)
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// platformFacts is the OS-dependent half of the vocabulary. Each variant
// supplies it and base.collect assembles the whole set.
type platformFacts interface {
	architecture(ctx context.Context) string
	kernelRelease(ctx context.Context) string
	ipAddress(ctx context.Context) string
	netmask(ctx context.Context) string
	interfaces(ctx context.Context) string
	uptimeSeconds(ctx context.Context) int64
	memorySizeKB(ctx context.Context) int64
	memoryFreeKB(ctx context.Context) int64
	memoryTotalKB(ctx context.Context) int64
}

// collect builds the common part of the vocabulary. Variants extend the
// returned set with their own keys (selinux, swapsize, swapfree).
func (b *base) collect(ctx context.Context, pf platformFacts) FactSet {
	arch := pf.architecture(ctx)
	if arch == "" {
		arch = osNotSupported
	}
	release := pf.kernelRelease(ctx)
	version := kernelVersionOf(release)
	uptime := pf.uptimeSeconds(ctx)

	return FactSet{
		"id":                     b.username(),
		"kernel":                 b.os.Kernel,
		"domain":                 b.domainName(),
		"fqdn":                   b.fullyQualifiedDomainName(),
		"hostname":               b.hostName(),
		"macaddress":             b.macAddress(),
		"architecture":           arch,
		"operatingsystem":        b.os.ID,
		"operatingsystemrelease": b.os.Release,
		"physicalprocessorcount": b.numCPU(),
		"processorcount":         b.numCPU(),
		"timezone":               b.timezone(),
		"hardwareisa":            arch,
		"hardwaremodel":          arch,
		"kernelrelease":          release,
		"kernelversion":          version,
		"osfamily":               b.os.Family,
		"kernelmajversion":       kernelMajorVersionOf(version),
		"ipaddress":              pf.ipAddress(ctx),
		"netmask":                pf.netmask(ctx),
		"interfaces":             pf.interfaces(ctx),
		"uptime_seconds":         uptime,
		"uptime_hours":           uptime / 3600,
		"uptime_days":            uptime / 86400,
		"memorysize":             pf.memorySizeKB(ctx),
		"memoryfree":             pf.memoryFreeKB(ctx),
		"memorytotal":            pf.memoryTotalKB(ctx),
	}
}

func (b *base) fullyQualifiedDomainName() string {
	return strings.ToLower(strings.TrimSuffix(b.fqdn(), "."))
}

func (b *base) hostName() string {
	return strings.SplitN(b.fullyQualifiedDomainName(), ".", 2)[0]
}

// domainName removes the first occurrence of the hostname from the FQDN,
// then the first dot. A hostname substring recurring later in the FQDN is
// left in place; only the first one goes.
func (b *base) domainName() string {
	domain := strings.Replace(b.fullyQualifiedDomainName(), b.hostName(), "", 1)
	return strings.Replace(domain, ".", "", 1)
}

// macAddress reads the hardware address twice and only trusts a value that
// is identical both times. Randomized or flapping addresses, and hosts with
// no readable interface, report UNKNOWN.
func (b *base) macAddress() string {
	first := b.readMAC()
	if first == "" || b.readMAC() != first {
		return unknownMAC
	}
	return strings.ToUpper(first)
}

func kernelVersionOf(release string) string {
	version, _, _ := strings.Cut(release, "-")
	return version
}

func kernelMajorVersionOf(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ".")
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// resolveFQDN asks the resolver for names behind the host's addresses and
// takes the first dotted one; the bare hostname is the fallback.
func resolveFQDN() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return host
	}
	for _, ip := range ips {
		names, err := net.LookupAddr(ip.String())
		if err != nil {
			continue
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			if strings.Contains(name, ".") {
				return name
			}
		}
	}
	return host
}

// readHardwareAddr returns the address of the first non-loopback interface
// with a 6-byte hardware address.
func readHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) != 6 {
			continue
		}
		return ifc.HardwareAddr.String()
	}
	return ""
}

func localTimezone() string {
	name, _ := time.Now().Zone()
	return name
}

func resolveHostIPv4() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return lookupIPv4(strings.ToLower(host))
}

func lookupIPv4(host string) string {
	if host == "" {
		return ""
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return ""
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
