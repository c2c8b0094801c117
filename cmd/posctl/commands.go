package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dukapos/internal/app"
	"dukapos/internal/cache"
	"dukapos/internal/catalog"
	"dukapos/internal/config"
	"dukapos/internal/logging"
	"dukapos/internal/report"
	"dukapos/internal/report/export"
	"dukapos/internal/service"
)

type configLoader func() (config.Config, error)

// runtime is the storage, logger and service a single command works with.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	storage *app.Storage
	service *service.Service
}

func (r *runtime) Close() {
	if r.storage != nil {
		if err := r.storage.Close(); err != nil {
			r.logger.Warn("close storage", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

func openRuntime(ctx context.Context, load configLoader, withService bool) (*runtime, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.DatabaseDriver, err)
	}
	rt := &runtime{cfg: cfg, logger: logger, storage: storage}
	if !withService {
		return rt, nil
	}

	svc, err := app.NewService(cfg, storage.Repo, cache.NoopReportCache{}, nil, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}

func newRootCmd(load configLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "posctl",
		Short:         "Operator tooling for the dukapos backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(load),
		newSeedCmd(load),
		newRolesCmd(load),
		newReportCmd(load),
	)
	return root
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), load, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.storage.Driver == config.DriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema to migrate")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", rt.storage.Driver)
			return nil
		},
	}
}

func newSeedCmd(load configLoader) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import products from a YAML catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			requests, err := catalog.LoadFile(file)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), load, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := catalog.Import(cmd.Context(), rt.service, requests, rt.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d products, skipped %d existing\n", result.Created, result.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "catalog.yaml", "YAML catalog to import")
	return cmd
}

func newRolesCmd(load configLoader) *cobra.Command {
	roles := &cobra.Command{
		Use:   "roles",
		Short: "Manage roles",
	}
	roles.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Create the built-in roles and promote the first user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), load, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.service.BootstrapRoles(cmd.Context()); err != nil {
				return err
			}
			names, err := rt.service.ListRoles(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "roles: %s\n", strings.Join(names, ", "))
			return nil
		},
	})
	return roles
}

func newReportCmd(load configLoader) *cobra.Command {
	var from, to, format, out string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the profit and loss report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromDate, err := parseDateFlag("from", from)
			if err != nil {
				return err
			}
			toDate, err := parseDateFlag("to", to)
			if err != nil {
				return err
			}

			rt, err := openRuntime(cmd.Context(), load, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			var doc export.Document
			switch strings.ToLower(format) {
			case "csv":
				doc, err = rt.service.ExportProfitLossCSV(cmd.Context(), fromDate, toDate)
			case "pdf":
				doc, err = rt.service.ExportProfitLossPDF(cmd.Context(), fromDate, toDate)
			default:
				return fmt.Errorf("unsupported format %q, use csv or pdf", format)
			}
			if err != nil {
				return err
			}

			target := out
			if target == "" {
				target = doc.Filename
			}
			if err := os.WriteFile(target, doc.Data, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", target, doc.ContentType, len(doc.Data))
			return nil
		},
	}
	exportCmd.Flags().StringVar(&from, "from", "", "first day, "+report.DateLayout+" (default: 7 days ago)")
	exportCmd.Flags().StringVar(&to, "to", "", "last day, "+report.DateLayout+" (default: today)")
	exportCmd.Flags().StringVar(&format, "format", "csv", "csv or pdf")
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: the report's file name)")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Reporting commands",
	}
	reportCmd.AddCommand(exportCmd)
	return reportCmd
}

func parseDateFlag(name string, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(report.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must use %s", name, report.DateLayout)
	}
	return parsed, nil
}
