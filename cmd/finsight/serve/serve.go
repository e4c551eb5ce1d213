// Package servecmder provides the serve command that runs the finsight API
// server.
package servecmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/finsight/api"
	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/dotdir"
	"github.com/papercomputeco/finsight/pkg/logger"
	"github.com/papercomputeco/finsight/pkg/rag"
)

const shutdownTimeout = 30 * time.Second

type serveCommander struct {
	listen         string
	storage        string
	sqlitePath     string
	postgresDSN    string
	vectorProvider string
	vectorTarget   string
	embedProvider  string
	embedTarget    string
	embedModel     string
	embedDims      uint
	genProvider    string
	genModel       string
	threshold      float64
	semanticWeight float64
	textWeight     float64
	workers        uint
	logFile        string
	noMCP          bool

	configDir string
	logger    *slog.Logger
}

const serveLongDesc string = `Run the finsight API server.

The server owns the document store, vector index and embedding provider and
exposes them over REST (/v1/...) and MCP (/mcp). While it runs, edits to the
[search] section of config.toml are applied without a restart.

With --log-file (or api.log_file) set, logs also go to that file as JSON.

Configuration precedence: flags > FINSIGHT_* environment > config.toml > defaults.

Examples:
  finsight serve
  finsight serve --listen :9000 --storage memory --vector-store-provider memory
  finsight serve --embedding-provider ollama --embedding-model nomic-embed-text --embedding-dimensions 768`

const serveShortDesc string = "Run the finsight API server"

var serveFlags = []string{
	config.FlagAPIListen,
	config.FlagStorageBackend,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagGenerationProv,
	config.FlagGenerationModel,
	config.FlagThreshold,
	config.FlagSemanticWeight,
	config.FlagTextWeight,
	config.FlagIngestWorkers,
	config.FlagAPILogFile,
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := cmdutil.NewViper(cmd, serveFlags)
			if err != nil {
				return err
			}
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			cmder.configDir = cmdutil.ConfigDir(cmd)
			log, closer, err := withLogFile(cmdutil.NewLogger(cmd), cfg.API.LogFile, cmdutil.Debug(cmd))
			if err != nil {
				return err
			}
			defer closer.Close()
			cmder.logger = log
			return cmder.run(cmd.Context(), cfg, v)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageBackend, &cmder.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, config.Flags, config.FlagGenerationProv, &cmder.genProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagGenerationModel, &cmder.genModel)
	config.AddFloatFlag(cmd, config.Flags, config.FlagThreshold, &cmder.threshold)
	config.AddFloatFlag(cmd, config.Flags, config.FlagSemanticWeight, &cmder.semanticWeight)
	config.AddFloatFlag(cmd, config.Flags, config.FlagTextWeight, &cmder.textWeight)
	config.AddUintFlag(cmd, config.Flags, config.FlagIngestWorkers, &cmder.workers)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPILogFile, &cmder.logFile)
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Do not mount the MCP endpoint")

	return cmd
}

// withLogFile tees base into a JSON log at path. An empty path leaves base
// alone.
func withLogFile(base *slog.Logger, path string, debug bool) (*slog.Logger, io.Closer, error) {
	if path == "" {
		return base, io.NopCloser(nil), nil
	}
	file, closer, err := logger.File(path, logger.WithDebug(debug))
	if err != nil {
		return nil, nil, err
	}
	return logger.Multi(base, file), closer, nil
}

func (c *serveCommander) run(parent context.Context, cfg *config.Config, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := rag.Open(ctx, cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			c.logger.Error("closing service", "error", err)
		}
	}()

	server, err := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
		DisableMCP: c.noMCP,
	}, svc, c.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	c.watchTuning(ctx, svc, v)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		c.logger.Info("shutting down")
		return server.Shutdown()
	}
}

// watchTuning applies [search] edits in config.toml to the running service.
// Values set by flags or FINSIGHT_* variables stay in force.
func (c *serveCommander) watchTuning(ctx context.Context, svc *rag.Service, v *viper.Viper) {
	dir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		c.logger.Warn("config hot reload disabled", "error", err)
		return
	}
	path := filepath.Join(dir, "config.toml")

	go func() {
		err := config.Watch(ctx, path, v, c.logger, func(cfg *config.Config) {
			tuning := rag.TuningFromConfig(cfg)
			if tuning == svc.Tuning() {
				return
			}
			if err := svc.SetTuning(tuning); err != nil {
				c.logger.Warn("rejecting search tuning", "error", err)
				return
			}
			c.logger.Info("search tuning updated",
				"semantic_weight", tuning.Weights.Semantic,
				"text_weight", tuning.Weights.Text,
				"threshold", tuning.Threshold,
			)
		})
		if err != nil {
			c.logger.Warn("config watcher stopped", "error", err)
		}
	}()
}
