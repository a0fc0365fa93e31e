package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/newtron-network/nbseed/pkg/audit"
	"github.com/newtron-network/nbseed/pkg/metrics"
	"github.com/newtron-network/nbseed/pkg/reconcile"
	"github.com/newtron-network/nbseed/pkg/runlock"
	"github.com/newtron-network/nbseed/pkg/tunnel"
	"github.com/newtron-network/nbseed/pkg/util"
)

var applyOpts struct {
	lockRedis       string
	lockTTL         time.Duration
	sshHost         string
	sshKey          string
	sshAskPass      bool
	promptToken     bool
	auditLog        string
	noAudit         bool
	metricsTextfile string
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Seed NetBox with the topology",
	Long: `Seed NetBox with the topology.

Objects are ensured in dependency order: sites, roles, manufacturers, device
types, interface templates, tags, devices, cabling, prefixes, ASNs, link
addressing with BGP sessions, loopbacks and VLANs. Objects that already exist
are reused; the first other error stops the run.

Examples:
  nbseed apply
  nbseed apply -c lab.yaml --url http://netbox.lab:8000
  nbseed apply --lock-redis 127.0.0.1:6379 --metrics-textfile /var/lib/node_exporter/nbseed.prom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		doc, err := loadDocument()
		if err != nil {
			return err
		}
		token, err := resolveToken(applyOpts.promptToken)
		if err != nil {
			return err
		}

		sshCfg := tunnel.Config{Target: firstNonEmpty(applyOpts.sshHost, app.settings.SSHHost), KeyFile: applyOpts.sshKey}
		if sshCfg.Target != "" && applyOpts.sshAskPass {
			if sshCfg.Password, err = readSecret("SSH password for " + sshCfg.Target + ": "); err != nil {
				return err
			}
		}
		client, closeTunnel, err := connect(ctx, token, sshCfg)
		if err != nil {
			return err
		}
		defer closeTunnel()

		runID := audit.NewRunID()
		opts := reconcile.Options{
			RunID:    runID,
			Reporter: reconcile.NewConsoleProgress(app.verbose),
		}

		if !applyOpts.noAudit {
			path := firstNonEmpty(applyOpts.auditLog, app.settings.AuditLog, audit.DefaultPath())
			logger, err := audit.NewFileLogger(path, audit.RotationConfig{
				MaxSize:    10 * 1024 * 1024, // 10MB
				MaxBackups: 10,
			})
			if err != nil {
				util.Warnf("Could not initialize audit logging: %v", err)
			} else {
				defer logger.Close()
				opts.Audit = logger
			}
		}

		textfile := firstNonEmpty(applyOpts.metricsTextfile, app.settings.MetricsTextfile)
		if textfile != "" {
			opts.Metrics = metrics.NewRun(app.netboxURL)
		}

		if addr := firstNonEmpty(applyOpts.lockRedis, app.settings.LockRedis); addr != "" {
			rc := redis.NewClient(&redis.Options{Addr: addr})
			defer rc.Close()
			lock := runlock.New(rc, app.netboxURL, runlock.Holder(runID), applyOpts.lockTTL)
			if err := lock.Acquire(ctx); err != nil {
				return err
			}
			defer func() {
				// The run context may already be canceled.
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := lock.Release(rctx); err != nil {
					util.Warnf("releasing run lock: %v", err)
				}
			}()
			opts.BeforeStep = func(ctx context.Context, step string) error {
				return lock.Refresh(ctx)
			}
		}

		_, runErr := reconcile.New(client, doc, opts).Run(ctx)

		if opts.Metrics != nil {
			if err := opts.Metrics.WriteTextfile(textfile); err != nil {
				util.Warnf("writing metrics: %v", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("seeding %s: %w", doc.Name, runErr)
		}
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	f := applyCmd.Flags()
	f.StringVar(&applyOpts.lockRedis, "lock-redis", "", "Redis address holding the run lock (host:port)")
	f.DurationVar(&applyOpts.lockTTL, "lock-ttl", runlock.DefaultTTL, "Run lock TTL, refreshed before every step")
	f.StringVar(&applyOpts.sshHost, "ssh-host", "", "Reach NetBox through an SSH tunnel to user@host[:port]")
	f.StringVar(&applyOpts.sshKey, "ssh-key", "", "SSH private key (default ~/.ssh/id_ed25519, ~/.ssh/id_rsa)")
	f.BoolVar(&applyOpts.sshAskPass, "ssh-ask-pass", false, "Prompt for the SSH password")
	f.BoolVar(&applyOpts.promptToken, "prompt-token", false, "Prompt for the API token when none is configured")
	f.StringVar(&applyOpts.auditLog, "audit-log", "", "Audit log path (default ~/.nbseed/audit.jsonl)")
	f.BoolVar(&applyOpts.noAudit, "no-audit", false, "Disable the audit log")
	f.StringVar(&applyOpts.metricsTextfile, "metrics-textfile", "", "Write run metrics to this node-exporter textfile")
}
