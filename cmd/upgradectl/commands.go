package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zqdou/kraken-ent/internal/application"
	"github.com/zqdou/kraken-ent/internal/config"
	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/observability"
)

var (
	configPath string
	userID     string

	envName          string
	catalogParent    string
	importSource     string
	targetEnv        string
	stageEnv         string
	productionEnv    string
	completionStatus string
	pageNumber       int
	pageSize         int

	// current is opened by the root pre-run hook and closed by the
	// post-run hook.
	current       *app
	metricsServer *http.Server
)

var (
	rootCmd = &cobra.Command{
		Use:               "upgradectl",
		Short:             "Roll template upgrades through the control plane, stage and production",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return teardown(cmd.Context())
		},
	}

	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Manage deployment environments",
	}
	envAddCmd = &cobra.Command{
		Use:   "add <id>",
		Short: "Register an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := domain.Environment{ID: domain.EnvironmentID(args[0]), Name: envName}
			if err := current.environments.Register(cmd.Context(), env); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered environment %s\n", env.ID)
			return nil
		},
	}
	envListCmd = &cobra.Command{
		Use:   "list",
		Short: "List environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envs, err := current.environments.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range envs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.ID, e.Name)
			}
			return nil
		},
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Manage catalog assets",
	}
	catalogLoadCmd = &cobra.Command{
		Use:   "load <path>...",
		Short: "Upsert asset documents from the content root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := current.loadDocument(cmd.Context(), catalogParent, path, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", path)
			}
			return nil
		},
	}

	packageCmd = &cobra.Command{
		Use:   "package",
		Short: "Manage template upgrade packages",
	}
	packageImportCmd = &cobra.Command{
		Use:   "import <manifest>",
		Short: "Register the upgrade package described by a manifest under the content root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := importSource
			if source == "" {
				source = current.cfg.Upgrade.DefaultSource
			}
			id, err := current.importPackage(cmd.Context(), source, args[0], userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	packageLatestCmd = &cobra.Command{
		Use:   "latest",
		Short: "Show the newest upgrade package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := current.upgrades.LatestPackage(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), map[string]any{
				"id":             pkg.ID,
				"key":            pkg.Key,
				"productVersion": pkg.Label(domain.LabelProductVersion),
				"createdAt":      pkg.CreatedAt,
			})
		},
	}

	controlPlaneCmd = &cobra.Command{
		Use:   "control-plane <package-id>",
		Short: "Apply an upgrade package to the control plane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := current.controlPlane.ApplyControlPlaneUpgrade(cmd.Context(), domain.AssetID(args[0]), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	stageCmd = &cobra.Command{
		Use:   "stage <package-id>",
		Short: "Roll an applied upgrade package out to a stage environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := current.stage.StageUpgrade(cmd.Context(), domain.StageRequest{
				TemplateUpgradeID: domain.AssetID(args[0]),
				EnvID:             domain.EnvironmentID(targetEnv),
				UserID:            userID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	upgradeCmd = &cobra.Command{
		Use:   "upgrade <package-id>",
		Short: "Run the control plane and stage steps as one workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner, stop, err := current.upgradeRunner(ctx)
			if err != nil {
				return err
			}
			defer stop()

			ctx, cancel := context.WithTimeout(ctx, current.cfg.Workflow.Timeout)
			defer cancel()
			svc := &application.UpgradeService{Workflow: runner}
			out, err := svc.Upgrade(ctx, domain.UpgradeInput{
				TemplateUpgradeID: domain.AssetID(args[0]),
				EnvID:             domain.EnvironmentID(targetEnv),
				UserID:            userID,
			})
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), out)
		},
	}

	promoteCmd = &cobra.Command{
		Use:   "promote <package-id>",
		Short: "Replicate a completed stage deployment to production",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := current.promotion.Promote(cmd.Context(), application.PromoteRequest{
				TemplateUpgradeID: domain.AssetID(args[0]),
				StageEnvID:        domain.EnvironmentID(stageEnv),
				ProductionEnvID:   domain.EnvironmentID(productionEnv),
				UserID:            userID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	completeCmd = &cobra.Command{
		Use:   "complete <deployment-id>",
		Short: "Report the outcome of a nested deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := current.status.Complete(cmd.Context(), domain.AssetID(args[0]), domain.DeployStatus(completionStatus))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), parent)
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the global upgrade state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := current.upgrades.SystemStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), info)
		},
	}

	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "Show the upgrade running in each environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := current.upgrades.CurrentUpgradeVersions(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), versions)
		},
	}

	deploymentsCmd = &cobra.Command{
		Use:   "deployments <package-id>",
		Short: "List the stage and production deployments of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := current.upgrades.ListTemplateDeployments(cmd.Context(), domain.AssetID(args[0]), pageNumber, pageSize)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), page)
		},
	}

	detailsCmd = &cobra.Command{
		Use:   "details <template-deployment-id>",
		Short: "Show the mappers and system deployments of a template deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := current.upgrades.TemplateDeploymentDetails(cmd.Context(), domain.AssetID(args[0]))
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), d)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the TOML configuration")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user recorded on created assets (defaults to upgrade.system_user)")

	envAddCmd.Flags().StringVar(&envName, "name", "", "display name")
	envCmd.AddCommand(envAddCmd, envListCmd)

	catalogLoadCmd.Flags().StringVar(&catalogParent, "parent", "", "key of the parent asset")
	catalogCmd.AddCommand(catalogLoadCmd)

	packageImportCmd.Flags().StringVar(&importSource, "source", "", "upgrade source: local or file (defaults to upgrade.default_source)")
	packageCmd.AddCommand(packageImportCmd, packageLatestCmd)

	for _, c := range []*cobra.Command{stageCmd, upgradeCmd} {
		c.Flags().StringVar(&targetEnv, "env", "", "stage environment ID")
		_ = c.MarkFlagRequired("env")
	}

	promoteCmd.Flags().StringVar(&stageEnv, "stage-env", "", "stage environment ID")
	promoteCmd.Flags().StringVar(&productionEnv, "production-env", "", "production environment ID")
	_ = promoteCmd.MarkFlagRequired("stage-env")
	_ = promoteCmd.MarkFlagRequired("production-env")

	completeCmd.Flags().StringVar(&completionStatus, "status", string(domain.DeployStatusSuccess), "terminal status: SUCCESS or FAILED")

	deploymentsCmd.Flags().IntVar(&pageNumber, "page", 0, "page number, from 0")
	deploymentsCmd.Flags().IntVar(&pageSize, "size", 20, "page size")

	rootCmd.AddCommand(
		envCmd,
		catalogCmd,
		packageCmd,
		controlPlaneCmd,
		stageCmd,
		upgradeCmd,
		promoteCmd,
		completeCmd,
		statusCmd,
		versionsCmd,
		deploymentsCmd,
		detailsCmd,
	)
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger("upgradectl", observability.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithContext(ctx)
	cmd.SetContext(ctx)

	if userID == "" {
		userID = cfg.Upgrade.SystemUser
	}

	observability.RegisterMetrics()
	if cfg.Metrics.Addr != "" {
		serveMetrics(ctx, cfg.Metrics.Addr)
	}

	current, err = newApp(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Debug().Str("dsn", cfg.Database.DSN).Str("engine", cfg.Workflow.Engine).Msg("store opened")
	return nil
}

func teardown(ctx context.Context) error {
	if metricsServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(sctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("metrics server shutdown")
		}
		metricsServer = nil
	}
	if current == nil {
		return nil
	}
	err := current.Close()
	current = nil
	return err
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := metricsServer
	logger := zerolog.Ctx(ctx)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}
