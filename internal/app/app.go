// Package app wires together the engine's core and domain components:
// configuration, logging, the probe driver, the Inventory, the Admission
// Queue, and the Executor. It is the single place that knows how all of
// them are constructed; everything else only sees the narrow interface it
// needs.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/hilci/internal/common"
	"github.com/bobmcallan/hilci/internal/inventory"
	"github.com/bobmcallan/hilci/internal/logicanalyzer"
	"github.com/bobmcallan/hilci/internal/models"
	"github.com/bobmcallan/hilci/internal/probe"
	"github.com/bobmcallan/hilci/internal/services/executor"
	"github.com/bobmcallan/hilci/internal/services/queue"
	"github.com/bobmcallan/hilci/internal/simprobe"
	"github.com/bobmcallan/hilci/internal/workerpool"
)

const defaultWorkerPoolSize = 64

// App is the assembled engine, ready to be handed to the HTTP transport.
type App struct {
	Config     *common.Config
	ConfigPath string
	Logger     *common.Logger
	Inventory  *inventory.Inventory
	Queue      *queue.Queue
	Executor   *executor.Executor
	Driver     probe.Driver
}

// Options controls how New assembles the App.
type Options struct {
	ConfigPath string
	Simulate   bool
	// AnalyzerToolPath is the external capture tool binary name or path.
	// Empty disables logic-analyzer capture (Enumerate will simply find
	// nothing to capture from).
	AnalyzerToolPath string
}

// New loads configuration, builds the probe driver and Inventory, and wires
// the Admission Queue and Executor. It does not start the Executor's
// consumer loop — call Run for that.
func New(opts Options) (*App, error) {
	cfg, err := common.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := common.NewLogger(cfg.Logging.Level)

	driver, err := buildDriver(opts, cfg, logger)
	if err != nil {
		return nil, err
	}

	inv, err := buildInventory(context.Background(), driver, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build inventory: %w", err)
	}

	q := queue.New(cfg.Server.MaxJobsInQueue)
	pool := workerpool.New(defaultWorkerPoolSize, logger)

	var analyzer *logicanalyzer.Client
	if opts.AnalyzerToolPath != "" {
		analyzer = logicanalyzer.New(opts.AnalyzerToolPath)
	}

	exec := executor.New(q, driver, pool, analyzer, logger, executor.Config{
		MaxTargetTimeout: time.Duration(cfg.Server.MaxTargetTimeout) * time.Second,
	})

	return &App{
		Config:     cfg,
		ConfigPath: opts.ConfigPath,
		Logger:     logger,
		Inventory:  inv,
		Queue:      q,
		Executor:   exec,
		Driver:     driver,
	}, nil
}

// Run starts the Executor's consumer loop and blocks until ctx is done.
func (a *App) Run(ctx context.Context) {
	a.Executor.Run(ctx)
}

// buildDriver returns a simulated driver when requested; a real hardware
// backend is outside this repo's scope, matching how the distilled spec
// treats the debug-probe wire protocol as an external collaborator.
func buildDriver(opts Options, cfg *common.Config, logger *common.Logger) (probe.Driver, error) {
	if !opts.Simulate {
		return nil, fmt.Errorf("no hardware probe driver is built into this server; run with --simulate, or provide one via a custom build")
	}

	scenarios := make(map[string]simprobe.Scenario, len(cfg.ProbeConfigs))
	for serial := range cfg.ProbeConfigs {
		scenarios[serial] = simprobe.Scenario{}
	}
	logger.Info().Int("probes", len(scenarios)).Msg("running with the simulated probe driver")
	return simprobe.NewDriver(scenarios), nil
}

// buildInventory intersects the configured probe records with the probes
// physically enumerated through the driver. A probe present in one but not
// the other is logged and skipped.
func buildInventory(ctx context.Context, driver probe.Driver, cfg *common.Config, logger *common.Logger) (*inventory.Inventory, error) {
	handles, err := driver.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate probes: %w", err)
	}

	inv := inventory.New()
	for _, h := range handles {
		pc, ok := cfg.ProbeConfigs[h.Serial]
		if !ok {
			logger.Warn().Str("probe_serial", h.Serial).Msg("enumerated probe has no configuration entry, skipping")
			continue
		}
		target := models.Target{
			ProbeSerial:   h.Serial,
			ProbeAlias:    pc.ProbeAlias,
			TargetName:    pc.TargetName,
			Groups:        pc.Groups,
			ProbeSpeedKHz: pc.ProbeSpeedKHz,
		}
		if err := inv.Push(target); err != nil {
			logger.Warn().Str("probe_serial", h.Serial).Err(err).Msg("failed to add target to inventory")
		}
	}
	return inv, nil
}

// DefaultConfigPath is the config path the CLI uses when --config is not
// given: $HILCI_CONFIG if set, otherwise a file in the working directory.
func DefaultConfigPath() string {
	if v := os.Getenv("HILCI_CONFIG"); v != "" {
		return v
	}
	return "hilci.config.json"
}
