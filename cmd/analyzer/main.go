package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"static-probe-analyzer/internal/config"
	"static-probe-analyzer/internal/engine"
	"static-probe-analyzer/internal/parser"
	"static-probe-analyzer/internal/probing"
	"static-probe-analyzer/internal/topology"
	"static-probe-analyzer/pkg/wellknown"
)

var errExpectFailed = errors.New("expectation not met")

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "static-probe-analyzer",
		Short: "Offline reachability analysis over a modeled network",
		Long: `static-probe-analyzer injects probes into a modeled topology of routers
and firewalls and reports whether the traffic is routed and accepted.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Configuration file (default: analyzer.yaml in the search path)")
	flags.String("topology", "", "Topology YAML file")
	flags.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-file", "", "Log file path (default: stderr)")
	flags.Int("ttl", probing.DefaultTTL, "Initial probe TTL")
	flags.Int("max-probes", probing.DefaultMaxProbes, "Maximum probes per simulation")
	flags.IntP("workers", "w", config.DefaultConfig().Workers, "Number of concurrent simulations in batch mode")
	flags.String("db", "", "Database DSN for mariadb rule sets")

	rootCmd.AddCommand(newProbeCmd(), newBatchCmd(), newRoutesCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is what every subcommand needs once flags are parsed.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tables *wellknown.Tables
	topo   *topology.Topology
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)

	if cfg.Topology == "" {
		return nil, fmt.Errorf("topology file must be provided")
	}
	tables, err := wellknown.Load()
	if err != nil {
		return nil, err
	}
	logger.Info("Loading topology", "path", cfg.Topology)
	topo, err := topology.Load(cfg.Topology, ruleSetLoaders(cmd.Context(), cfg, tables, logger), logger)
	if err != nil {
		logger.Error("Failed to load topology", "path", cfg.Topology, "error", err)
		return nil, err
	}
	logger.Info("Topology loaded", "equipments", len(topo.Equipments()))
	return &app{cfg: cfg, logger: logger, tables: tables, topo: topo}, nil
}

// ruleSetLoaders maps the rule set types a topology may reference to the
// parsers that build them.
func ruleSetLoaders(ctx context.Context, cfg *config.Config, tables *wellknown.Tables, logger *slog.Logger) map[string]topology.RuleSetLoader {
	if ctx == nil {
		ctx = context.Background()
	}
	build := func(c *parser.Config, rc topology.RuleSetConfig) (*engine.RuleSet, error) {
		def, err := rc.DefaultAction()
		if err != nil {
			return nil, err
		}
		rs, err := c.RuleSet(rc.Name, def)
		if err != nil {
			return nil, err
		}
		for _, w := range c.Warnings {
			logger.Warn("Rule set warning", "ruleset", rc.Name, "warning", w.String())
		}
		return rs, nil
	}

	return map[string]topology.RuleSetLoader{
		"inline": func(rc topology.RuleSetConfig) (*engine.RuleSet, error) {
			return build(parser.InlineConfig(rc.Rules, tables), rc)
		},
		"fortigate": func(rc topology.RuleSetConfig) (*engine.RuleSet, error) {
			if rc.File == "" {
				return nil, fmt.Errorf("rule set %s: file must be provided for fortigate rule sets", rc.Name)
			}
			c, err := parser.LoadFortiGateFile(rc.File, tables)
			if err != nil {
				return nil, err
			}
			return build(c, rc)
		},
		"mariadb": func(rc topology.RuleSetConfig) (*engine.RuleSet, error) {
			if cfg.DB == "" {
				return nil, fmt.Errorf("rule set %s: database DSN must be provided for mariadb rule sets", rc.Name)
			}
			p, err := parser.NewMariaDBParser(ctx, cfg.DB, tables, logger)
			if err != nil {
				return nil, err
			}
			defer p.Close()
			c, err := p.Parse(ctx, rc.RuleSet)
			if err != nil {
				return nil, err
			}
			return build(c, rc)
		},
	}
}

// simulation is the run of one request from every injection point it
// enters the topology at.
type simulation struct {
	points   []topology.InjectionPoint
	trackers []*probing.Tracker
	outcome  probing.Outcome
}

func (a *app) simulate(on string, req *engine.Request) (*simulation, error) {
	points, err := a.topo.Locate(on, req.Source)
	if err != nil {
		return nil, err
	}
	eng := probing.NewEngine(a.topo, probing.WithMaxProbes(a.cfg.MaxProbes), probing.WithLogger(a.logger))
	sim := &simulation{points: points}
	outcomes := make([]probing.Outcome, 0, len(points))
	for _, p := range points {
		tr, err := eng.Enter(p.Equipment, p.Interface, probing.NewProbe(req.Clone(), a.cfg.TTL))
		if err != nil {
			return nil, fmt.Errorf("simulation from %s: %w", p, err)
		}
		sim.trackers = append(sim.trackers, tr)
		outcomes = append(outcomes, tr.Outcome())
	}
	sim.outcome = probing.Combine(outcomes...)
	return sim, nil
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// The logger is not set up yet; fall back to stderr silently.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}
