package facts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"hostfact/internal/cmdrun"
	"hostfact/internal/osinfo"
)

// PowerShell one-liners; each prints a single line for the token parsers.
// Memory values come back in KB, page file values in MB.
const (
	winMemoryScript   = `$mem = Get-CimInstance Win32_OperatingSystem; Write-Output "$($mem.FreePhysicalMemory) $($mem.TotalVisibleMemorySize)"`
	winPageFileScript = `$pg = Get-CimInstance Win32_PageFileUsage | Select-Object -First 1; Write-Output "$($pg.AllocatedBaseSize) $($pg.AllocatedBaseSize - $pg.CurrentUsage)"`
	winUptimeScript   = `$os = Get-CimInstance Win32_OperatingSystem; Write-Output ([int64]((Get-Date) - $os.LastBootUpTime).TotalSeconds)`
)

// windowsProvider queries PowerShell per accessor; there is no snapshot
// state to keep.
type windowsProvider struct {
	base
	run cmdrun.Runner

	procIdent func() string // PROCESSOR_IDENTIFIER, seam for tests
}

func newWindowsProvider(log *slog.Logger, run cmdrun.Runner, info osinfo.Info) *windowsProvider {
	return &windowsProvider{
		base:      newBase(log, info),
		run:       run,
		procIdent: func() string { return os.Getenv("PROCESSOR_IDENTIFIER") },
	}
}

func (p *windowsProvider) CollectAll(ctx context.Context) FactSet {
	fs := p.collect(ctx, p)
	fs["swapsize"] = convertMegabytesToGigabytes(p.queryToken(ctx, winPageFileScript, false, "swapsize"))
	fs["swapfree"] = convertMegabytesToGigabytes(p.queryToken(ctx, winPageFileScript, true, "swapfree"))
	return fs
}

func (p *windowsProvider) architecture(ctx context.Context) string {
	return strings.TrimSpace(p.procIdent())
}

func (p *windowsProvider) kernelRelease(ctx context.Context) string {
	return p.os.Release
}

func (p *windowsProvider) ipAddress(ctx context.Context) string {
	return p.hostIPv4()
}

func (p *windowsProvider) netmask(ctx context.Context) string {
	return osNotSupported
}

func (p *windowsProvider) interfaces(ctx context.Context) string {
	return osNotSupported
}

func (p *windowsProvider) uptimeSeconds(ctx context.Context) int64 {
	out, err := p.powershell(ctx, winUptimeScript)
	if err != nil {
		p.log.Warn("cannot query uptime", "err", err)
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		p.log.Warn("cannot parse uptime output", "output", strings.TrimSpace(out))
		return 0
	}
	return n
}

func (p *windowsProvider) memoryFreeKB(ctx context.Context) int64 {
	return p.queryToken(ctx, winMemoryScript, false, "memoryfree")
}

func (p *windowsProvider) memoryTotalKB(ctx context.Context) int64 {
	return p.queryToken(ctx, winMemoryScript, true, "memorytotal")
}

func (p *windowsProvider) memorySizeKB(ctx context.Context) int64 {
	return p.queryToken(ctx, winMemoryScript, true, "memorysize")
}

// queryToken runs a script and parses one whitespace token of its single
// output line; last selects the final token instead of the first. Any
// failure degrades to 0 with a warning naming the fact.
func (p *windowsProvider) queryToken(ctx context.Context, script string, last bool, fact string) int64 {
	out, err := p.powershell(ctx, script)
	if err != nil {
		p.log.Warn("cannot query fact", "fact", fact, "err", err)
		return 0
	}
	tok := pickToken(out, last)
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		p.log.Warn("cannot parse fact output", "fact", fact, "token", tok)
		return 0
	}
	return n
}

func (p *windowsProvider) powershell(ctx context.Context, script string) (string, error) {
	res, err := p.run.RunArgs(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return "", err
	}
	if res.Code != 0 {
		return "", fmt.Errorf("powershell exited %d: %s", res.Code, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func pickToken(out string, last bool) string {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}
	if last {
		return fields[len(fields)-1]
	}
	return fields[0]
}
