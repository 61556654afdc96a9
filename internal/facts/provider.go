package facts

import (
	"context"
	"log/slog"

	"hostfact/internal/cmdrun"
	"hostfact/internal/osinfo"
)

// Provider collects the full fact set for one host.
type Provider interface {
	CollectAll(ctx context.Context) FactSet
}

// NewProvider picks the implementation for the detected OS. The POSIX
// provider snapshots ifconfig, uptime and meminfo output here, so
// construction already runs commands through run.
func NewProvider(ctx context.Context, log *slog.Logger, run cmdrun.Runner, info osinfo.Info) Provider {
	if info.Kernel == "Windows" {
		return newWindowsProvider(log, run, info)
	}
	return newPosixProvider(ctx, log, run, info)
}

// NewRemoteProvider collects facts about the host behind run rather than
// the local machine. Identity facts (user, fqdn, timezone, cpu count) are
// resolved over the runner at construction. Remote Windows hosts are not
// supported.
func NewRemoteProvider(ctx context.Context, log *slog.Logger, run cmdrun.Runner, info osinfo.Info) Provider {
	return newPosixWithBase(ctx, run, newRemoteBase(ctx, log, run, info))
}
