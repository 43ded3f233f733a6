package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"evolve/internal/provider"
	"evolve/internal/scheduler"
	"evolve/internal/store"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, database, generation providers and the schedule",
		Long: `Verifies that the configuration loads, the database is reachable, the
enabled generation providers answer and shows when the next reminder scan
would run. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("evolve status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed+1)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			// Database
			if st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, logger); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				if err := st.Ping(ctx); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Database.Driver)
					passed++
				}
				st.Close()
			}

			// Providers
			enabled := 0
			for _, h := range provider.NewFactory(cfg, logger).CheckAll(ctx) {
				label := "Provider: " + h.Name
				switch {
				case !h.Enabled:
					printSkip(label, "disabled")
				case h.Err != nil:
					enabled++
					printWarn(label, h.Err.Error())
					warned++
				default:
					enabled++
					printPass(label, "healthy")
					passed++
				}
			}
			if enabled == 0 {
				printWarn("Generation", "no provider enabled, reminders will use fallback text")
				warned++
			}

			// Schedule
			if cfg.Reminders.Enabled {
				loc, _ := cfg.Reminders.Location()
				sched := scheduler.New(scheduler.Config{Location: loc, Logger: logger})
				svcJob := scheduler.Job{ID: cfg.Reminders.JobID, Interval: cfg.Reminders.Interval(), Run: func(context.Context, time.Time) error { return nil }}
				if err := sched.Register(svcJob); err != nil {
					printFail("Scheduler", err.Error())
					failed++
				} else {
					next := sched.Jobs()[0].NextRun
					printPass("Scheduler", fmt.Sprintf("every %s, next scan %s (%s)", cfg.Reminders.Interval(), next.Format("15:04 MST"), humanize.Time(next)))
					passed++
				}
			} else {
				printWarn("Scheduler", "disabled (set ENABLE_SCHEDULER=true)")
				warned++
			}

			// Listen address
			if err := checkAddr(cfg.Server.Addr()); err != nil {
				printWarn("HTTP address", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				warned++
			} else {
				printPass("HTTP address", cfg.Server.Addr()+" available")
				passed++
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}

func printSkip(check, detail string) {
	fmt.Printf("  [SKIP] %-24s %s\n", check, detail)
}
