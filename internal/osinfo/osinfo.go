package osinfo

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"hostfact/internal/cmdrun"
)

// Info classifies a host once at startup. Zero-valued fields mean the
// detail could not be determined; fact collection degrades per fact instead
// of failing on an incomplete classification.
type Info struct {
	Kernel  string // "Linux", "Windows", "Darwin"
	ID      string // distro id, e.g. "centos", "ubuntu", "windows"
	Family  string // "redhat", "debian", "suse", "alpine", "windows"
	Release string // e.g. "7.9.2009", "10.0.19045"
	Major   int    // leading numeric component of Release
}

const osReleasePath = "/etc/os-release"

const winVersionScript = `(Get-CimInstance Win32_OperatingSystem).Version`

// Detect classifies the local host. The runner is only consulted on
// Windows, where the release comes from PowerShell.
func Detect(ctx context.Context, log *slog.Logger, run cmdrun.Runner) Info {
	if runtime.GOOS == "windows" {
		return detectWindows(ctx, log, run)
	}

	info := Info{Kernel: kernelName(runtime.GOOS)}
	b, err := os.ReadFile(osReleasePath)
	if err != nil {
		log.Warn("cannot read os-release", "path", osReleasePath, "err", err)
		return info
	}
	applyOSRelease(&info, string(b))
	return info
}

// DetectRemote classifies a host reached through the runner. Remote hosts
// are assumed POSIX; the Windows agent classifies itself locally.
func DetectRemote(ctx context.Context, log *slog.Logger, run cmdrun.Runner) Info {
	info := Info{Kernel: "Linux"}
	if res, err := run.Run(ctx, "uname -s"); err == nil && res.Code == 0 {
		if name := strings.TrimSpace(res.Stdout); name != "" {
			info.Kernel = name
		}
	} else {
		log.Warn("uname -s failed on remote host", "err", err)
	}

	res, err := run.Run(ctx, "cat "+osReleasePath)
	if err != nil || res.Code != 0 {
		log.Warn("cannot read os-release on remote host", "err", err)
		return info
	}
	applyOSRelease(&info, res.Stdout)
	return info
}

func detectWindows(ctx context.Context, log *slog.Logger, run cmdrun.Runner) Info {
	info := Info{Kernel: "Windows", ID: "windows", Family: "windows"}
	res, err := run.RunArgs(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", winVersionScript)
	if err != nil || res.Code != 0 {
		log.Warn("cannot query windows version", "err", err)
		return info
	}
	info.Release = strings.TrimSpace(res.Stdout)
	info.Major = majorOf(info.Release)
	return info
}

func kernelName(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	case "":
		return ""
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}

// applyOSRelease fills ID, Family, Release and Major from os-release(5)
// text.
func applyOSRelease(info *Info, data string) {
	fields := parseOSRelease(data)
	info.ID = fields["ID"]
	info.Release = fields["VERSION_ID"]
	info.Major = majorOf(info.Release)
	info.Family = familyFor(fields["ID"], fields["ID_LIKE"])
}

func parseOSRelease(data string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = strings.Trim(val, `"'`)
	}
	return out
}

func familyFor(id, idLike string) string {
	candidates := append([]string{id}, strings.Fields(idLike)...)
	for _, v := range candidates {
		switch v {
		case "rhel", "centos", "fedora", "rocky", "almalinux", "amzn", "ol":
			return "redhat"
		case "debian", "ubuntu":
			return "debian"
		case "sles", "sled", "suse", "opensuse", "opensuse-leap", "opensuse-tumbleweed":
			return "suse"
		case "alpine":
			return "alpine"
		}
	}
	return ""
}

func majorOf(release string) int {
	head, _, _ := strings.Cut(release, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}
