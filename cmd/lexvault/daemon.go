package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lexvault/internal/usecase/scheduling"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the maintenance schedule until interrupted",
	Long: `Daemon reaps expired sessions and re-verifies the audit chain on the
schedule in the maintenance section of the config.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Security.Audit.VerifyOnStart {
		n, err := a.auditLog.Verify(ctx)
		if err != nil {
			return err
		}
		log.Info("audit chain verified", "entries", n)
	}

	if !cfg.Maintenance.Enabled {
		log.Info("maintenance disabled; nothing to run")
		return nil
	}

	sched := scheduling.NewScheduler(log)
	maint := &scheduling.Maintenance{
		Sessions: a.store,
		Chain:    a.auditLog,
		Audit:    a.audit,
		Logger:   log,
	}
	maint.Register(sched)

	for _, t := range cfg.Maintenance.Tasks {
		err := sched.AddTask(scheduling.ScheduledTask{
			Name:     t.Name,
			Schedule: t.Schedule,
			Action:   scheduling.ScheduledAction(t.Action),
			OneShot:  t.OneShot,
		})
		if err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("lexvault daemon running"))
	for _, t := range cfg.Maintenance.Tasks {
		next := "-"
		if at := sched.NextRun(t.Name); at != nil {
			next = at.Format(time.DateTime)
		}
		printKV(out, t.Name, dimStyle.Render(t.Schedule+"  next "+next))
	}

	<-ctx.Done()
	log.Info("shutting down")
	return sched.Stop()
}
