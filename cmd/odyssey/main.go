package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

const usage = `usage: odyssey <command> [flags]

commands:
  serve                       run the HTTP API (default)
  migrate                     apply database migrations
  jobs trigger <name>         enqueue ledger:period_close or ledger:gl_integrity
  jobs stats                  show queue statistics
  ledger verify               compare balance projection with journal lines
  ledger rebuild-balances     rebuild the balance projection
  ledger trial-balance        print a period trial balance
  statement                   print a student statement
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = db.Migrate(cfg.PGDSN, logger)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "ledger":
		err = runLedger(ctx, cfg, logger, args)
	case "statement":
		err = runStatement(ctx, cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Services:   rt.Services,
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    rt.Metrics,
		Health:     rt.HealthChecks(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: missing subcommand")
	}
	jc, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jc.Close()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		period := fs.Int64("period", 0, "period id for ledger:period_close (0 = due period)")
		if len(args) < 2 {
			return errors.New("jobs trigger: missing job name")
		}
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := jc.Trigger(ctx, args[1], *period)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}

func runLedger(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("ledger: missing subcommand")
	}
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	journals := rt.Services.Journals

	switch args[0] {
	case "verify":
		drift, err := journals.VerifyBalances(ctx)
		if err != nil {
			return err
		}
		for _, d := range drift {
			fmt.Printf("drift account=%d fund=%d period=%d cached=%d/%d journal=%d/%d\n",
				d.AccountID, d.FundID, d.PeriodID, d.CachedDebit, d.CachedCredit, d.JournalDebit, d.JournalCredit)
		}
		if len(drift) > 0 {
			return fmt.Errorf("ledger verify: %d projection rows drifted", len(drift))
		}
		fmt.Println("balance projection consistent")
	case "rebuild-balances":
		n, err := journals.RebuildBalances(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("rebuilt %d balance rows\n", n)
	case "trial-balance":
		fs := flag.NewFlagSet("ledger trial-balance", flag.ContinueOnError)
		period := fs.Int64("period", 0, "period id")
		locale := fs.String("locale", "en", "amount locale")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		tb, err := journals.TrialBalance(ctx, *period)
		if err != nil {
			return err
		}
		return cli.NewPrinter(*locale).TrialBalance(os.Stdout, tb)
	default:
		return fmt.Errorf("ledger: unknown subcommand %q", args[0])
	}
	return nil
}

func runStatement(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("statement", flag.ContinueOnError)
	student := fs.Int64("student", 0, "student id")
	asOfRaw := fs.String("as-of", "", "cutoff date YYYY-MM-DD (default today)")
	locale := fs.String("locale", "en", "amount locale")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *student <= 0 {
		return errors.New("statement: -student is required")
	}
	var asOf *time.Time
	if *asOfRaw != "" {
		t, err := shared.ParseDate("as-of", *asOfRaw)
		if err != nil {
			return err
		}
		asOf = &t
	}

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	stmt, err := rt.Services.Statements.BuildStudentStatement(ctx, *student, asOf)
	if err != nil {
		return err
	}
	return cli.NewPrinter(*locale).Statement(os.Stdout, stmt)
}
