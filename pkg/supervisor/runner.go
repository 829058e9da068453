package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/control"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logcollection"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processfile"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

// How long the control service may drain once units are down
const controlShutdownTimeout = 5 * time.Second

type RunOptions struct {
	// Path the configuration was loaded from, used for watching
	ConfigFile string

	// Stop after this long, 0 runs until a signal or a shutdown request
	RunDuration time.Duration

	// Replaces the process launcher, nil launches real processes
	Launcher process.Launcher

	// Signals that trigger shutdown, nil means SIGINT and SIGTERM
	Signals []os.Signal
}

// Run supervises the configured units until a signal, a control service
// shutdown request, or the run duration ends it. Configuration, cycle and
// preflight errors are returned before any unit starts.
func Run(ctx context.Context, config *Config, options RunOptions, logger logging.Logger) error {
	logger.Infof("Supervisor runner starting...")

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	registry, graph, err := BuildTopology(config)
	if err != nil {
		return err
	}
	logger.Infof("Configuration valid, units: %d, tiers: %s", registry.Len(), formatTiers(graph.Tiers()))

	launcher := options.Launcher
	if launcher == nil {
		if err := Preflight(registry, logger); err != nil {
			return err
		}
		launcher = newStdLauncher(config, registry, logger)
	}

	supervisor, err := NewSupervisor(registry, SupervisorOptions{
		Launcher:             launcher,
		ForceShutdownTimeout: config.Supervisor.ForceShutdownTimeout,
	}, logger)
	if err != nil {
		return err
	}

	shutdownRequests := make(chan struct{}, 1)
	requestShutdown := func() {
		select {
		case shutdownRequests <- struct{}{}:
		default:
		}
	}

	if config.Supervisor.ControlPort > 0 {
		server, err := control.NewServer(control.ServerOptions{Port: config.Supervisor.ControlPort}, logger)
		if err != nil {
			return errors.NewInternalError("failed to create control service", err)
		}
		control.RegisterGRPCServerHandler(server.GRPC(), NewControlHandler(supervisor, requestShutdown, logger), logger)
		server.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), controlShutdownTimeout)
			defer cancel()
			server.Shutdown(ctx)
		}()
	}

	if config.Supervisor.WatchConfig && options.ConfigFile != "" {
		stopWatching, err := WatchConfigFile(ctx, options.ConfigFile, func(validationErr error) {
			if validationErr != nil {
				logger.Warnf("Configuration file changed and is now invalid: %v", validationErr)
				return
			}
			logger.Warnf("Configuration file changed, restart the supervisor to apply it")
		}, logger)
		if err != nil {
			logger.Warnf("Configuration watch disabled: %v", err)
		} else {
			defer stopWatching()
		}
	}

	signals := options.Signals
	if signals == nil {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, signals...)
	defer signal.Stop(sig)

	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	startResult := make(chan error, 1)
	go func() {
		startResult <- supervisor.Start(startCtx)
	}()

	select {
	case receivedSignal := <-sig:
		logger.Infof("Supervisor runner received signal: %v", receivedSignal)
	case <-shutdownRequests:
		logger.Infof("Supervisor runner received shutdown request")
	case <-ctx.Done():
		logger.Infof("Supervisor runner timed out")
	}

	// Shutdown gets a fresh context, the run context may already be done
	err = supervisor.Shutdown(context.Background())

	if startErr := <-startResult; startErr != nil && !errors.IsCancelledError(startErr) {
		logger.Errorf("Supervisor start failed: %v", startErr)
	}

	logger.Infof("Supervisor runner stopped")
	return err
}

func newStdLauncher(config *Config, registry *units.Registry, logger logging.Logger) process.Launcher {
	var output process.OutputSink
	if config.Supervisor.IsOutputCollected() {
		output = logcollection.NewCollector(logger)
	}

	var pidFiles *processfile.ProcessFileManager
	if config.Supervisor.PIDDirectory != "" {
		pidFiles = processfile.NewProcessFileManager(processfile.ProcessFileConfig{
			BaseDirectory: config.Supervisor.PIDDirectory,
		}, logger)

		// Units run in their own process groups and can outlive a killed supervisor
		for _, name := range registry.Names() {
			if pid, found := pidFiles.FindLeftoverProcess(name); found {
				logger.Warnf("Unit %s from a previous run is still alive, pid: %d", name, pid)
			}
		}
	}

	return process.NewStdLauncher(logger, output, pidFiles)
}
