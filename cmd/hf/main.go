package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"hostfact/internal/cmdrun"
	"hostfact/internal/facts"
	"hostfact/internal/logging"
	"hostfact/internal/osinfo"
	"hostfact/internal/printer"
	"hostfact/internal/render"
)

// set via -ldflags "-X main.version=..."
var version = "0.3.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, logFile string
	var cleanup func()

	root := &cobra.Command{
		Use:           "hf",
		Short:         "hf collects and renders host facts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		_, c, err := logging.New(logLevel, logFile)
		if err != nil {
			return err
		}
		cleanup = c
		return nil
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if cleanup != nil {
			cleanup()
		}
	}

	root.AddCommand(newCollectCmd(), newRenderCmd(), newWatchCmd(), newVersionCmd())
	return root
}

func newCollectCmd() *cobra.Command {
	var (
		format    string
		only      []string
		noColor   bool
		sshTarget string
		identity  string
		password  string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect facts for the local or a remote host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fs, err := collectFacts(ctx, slog.Default(), sshTarget, identity, password)
			if err != nil {
				return err
			}

			tty := printer.ColorEnabled(os.Stdout)
			opts := printer.Options{
				Format: format,
				Only:   only,
				Color:  tty && !noColor,
			}
			if opts.Format == "" {
				// table for humans, json for pipes
				if tty {
					opts.Format = printer.FormatTable
				} else {
					opts.Format = printer.FormatJSON
				}
			}
			return printer.Render(os.Stdout, fs, opts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "table, json or yaml (table on a tty, json otherwise)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "fact name globs to keep, e.g. 'memory*,uptime_*'")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored table keys")
	cmd.Flags().StringVar(&sshTarget, "ssh", "", "collect from user@host[:port] over ssh")
	cmd.Flags().StringVarP(&identity, "identity", "i", "", "private key file for --ssh")
	cmd.Flags().StringVar(&password, "password", "", "password for --ssh")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall collection timeout")
	return cmd
}

func collectFacts(ctx context.Context, log *slog.Logger, sshTarget, identity, password string) (facts.FactSet, error) {
	if sshTarget == "" {
		run := cmdrun.Local{}
		info := osinfo.Detect(ctx, log, run)
		return facts.NewProvider(ctx, log, run, info).CollectAll(ctx), nil
	}

	cfg, err := sshConfigFor(sshTarget, identity, password)
	if err != nil {
		return nil, err
	}
	conn, err := cmdrun.DialSSH(cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", sshTarget, err)
	}
	defer conn.Close()

	info := osinfo.DetectRemote(ctx, log, conn)
	return facts.NewRemoteProvider(ctx, log, conn, info).CollectAll(ctx), nil
}

func sshConfigFor(target, identity, password string) (cmdrun.SSHConfig, error) {
	user, host, ok := strings.Cut(target, "@")
	if !ok || user == "" || host == "" {
		return cmdrun.SSHConfig{}, fmt.Errorf("bad --ssh target %q, want user@host[:port]", target)
	}
	return cmdrun.SSHConfig{
		Host:     host,
		User:     user,
		KeyFile:  identity,
		Password: password,
		Timeout:  10 * time.Second,
	}, nil
}

func newRenderCmd() *cobra.Command {
	var templateFile, outFile string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a Go template against collected facts",
		Long: `Render executes the template with .Facts, .OS and .Now bound, with the
sprig function map plus toYAML and toJSON. Example:

  hf render --template motd.tmpl --out /etc/motd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if templateFile == "" {
				return errors.New("--template is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log := slog.Default()
			run := cmdrun.Local{}
			info := osinfo.Detect(ctx, log, run)
			fs := facts.NewProvider(ctx, log, run, info).CollectAll(ctx)

			out := os.Stdout
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return render.ExecuteFile(out, templateFile, render.Data{
				Facts: fs,
				OS:    info,
				Now:   time.Now(),
			})
		},
	}

	cmd.Flags().StringVarP(&templateFile, "template", "t", "", "template file to render")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write output here instead of stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall collection timeout")
	return cmd
}

// watchEvent mirrors the server's watch message.
type watchEvent struct {
	AgentID     string        `json:"agent_id"`
	Hostname    string        `json:"hostname"`
	CollectedAt int64         `json:"collected_at"`
	Facts       facts.FactSet `json:"facts"`
}

func newWatchCmd() *cobra.Command {
	var serverURL, adminKey string
	var only []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream fact updates from a hf-server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" || adminKey == "" {
				return errors.New("--server and --admin-key are required")
			}
			wsURL, err := watchURL(serverURL)
			if err != nil {
				return err
			}

			header := http.Header{}
			header.Set("X-Admin-Key", adminKey)
			conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, header)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("connect %s: %w (status %d)", wsURL, err, resp.StatusCode)
				}
				return fmt.Errorf("connect %s: %w", wsURL, err)
			}
			defer conn.Close()

			for {
				var ev watchEvent
				if err := conn.ReadJSON(&ev); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return err
				}
				fs, err := printer.Filter(ev.Facts, only)
				if err != nil {
					return err
				}
				line, _ := json.Marshal(fs)
				fmt.Printf("%s %s %s %s\n",
					time.Unix(ev.CollectedAt, 0).UTC().Format(time.RFC3339),
					ev.Hostname, ev.AgentID, line)
			}
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "hf-server base URL")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "admin API key")
	cmd.Flags().StringSliceVar(&only, "only", nil, "fact name globs to keep")
	return cmd
}

func watchURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("bad --server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bad --server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/admin/watch"
	return u.String(), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hf version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hf", version)
		},
	}
}
