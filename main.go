package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"payrecon/aggregate"
	"payrecon/config"
	"payrecon/dataservice"
	"payrecon/events"
	"payrecon/model"
	"payrecon/payment"
	"payrecon/report"
	"payrecon/upstream"
	"payrecon/workflow"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "payrecon",
		Short: "Payment reconciliation console for payments admins",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "payrecon.yaml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// app holds what both commands build from the config.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *sql.DB
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
}

func setup(ctx context.Context) (*app, *workflow.Controller, error) {
	cfg, err := config.LoadConfig(configPath, ".env")
	if err != nil {
		return nil, nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.LogLevel)}
	slog.SetDefault(a.logger)

	var auditor workflow.Auditor
	if cfg.MySQLDSN != "" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			a.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		if err := dataservice.InitDB(ctx, db); err != nil {
			a.Close()
			return nil, nil, fmt.Errorf("init db: %w", err)
		}
		a.db = db
		auditor = dataservice.NewAuditor(db)
		a.logger.Info("audit store connected")
	}

	var sinks []events.Sink
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			a.Close()
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, producer.Close)
		sinks = append(sinks, events.NewKafkaSink(producer, cfg.KafkaTopic, a.logger))
		a.logger.Info("kafka producer initialized", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
	}
	bus := events.NewBus(a.logger, sinks...)

	client := upstream.NewClient(cfg.RecordsURL, cfg.ActionURL, cfg.AdminToken, cfg.RequestTimeout)
	loc := cfg.Location
	ctl := workflow.New(workflow.Dependencies{
		Config: workflow.Config{
			PerPage:         cfg.PerPage,
			DefaultDuration: model.Duration(cfg.DefaultDuration),
			WindowDays:      cfg.WindowDays,
		},
		Records:   client,
		Actions:   client,
		Auditor:   auditor,
		Publisher: bus,
		Logger:    a.logger,
		Now:       func() time.Time { return time.Now().In(loc) },
	})
	return a, ctl, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, ctl, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := payment.NewService(ctl, a.db, a.logger)
			if _, err := svc.LoadRecords(ctx, model.PageQuery{}); err != nil {
				a.logger.Warn("initial page load failed", "error", err)
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
				Handler:           payment.NewRouter(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("console listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func reportCmd() *cobra.Command {
	var (
		q        model.PageQuery
		duration string
		category string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch one page of payments and write it as an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, ctl, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			q.Duration = model.Duration(strings.ToLower(duration))
			if _, err := ctl.LoadPage(ctx, q); err != nil {
				return err
			}
			cat, err := aggregate.ParseCategory(category)
			if err != nil {
				return err
			}
			if _, err := ctl.ApplyCategory(ctx, cat); err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			v := ctl.Snapshot()
			err = report.Write(f, report.Input{
				Query:      v.Query,
				Category:   v.Category,
				Rows:       v.Rows,
				Totals:     v.Totals,
				Now:        ctl.Now(),
				WindowDays: ctl.WindowDays(),
			})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			a.logger.Info("report written", "path", out, "rows", len(v.Rows), "category", string(cat))
			return nil
		},
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", 0, "records per page (0 uses the configured default)")
	cmd.Flags().StringVar(&duration, "duration", "", "daily, yesterday, weekly, monthly, yearly, custom or all")
	cmd.Flags().StringVar(&q.From, "from", "", "custom range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&q.To, "to", "", "custom range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "filtered", "category to export")
	cmd.Flags().StringVar(&out, "out", "payments.xlsx", "output file")
	return cmd
}
