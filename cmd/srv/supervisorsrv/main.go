package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"
)

type flagOptions struct {
	Config      string `long:"config" description:"path to the supervisor configuration file" required:"true"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the supervisor (debug feature)"`
	Validate    bool   `long:"validate" description:"validate the configuration, print its summary and exit"`
	LogLevel    string `long:"log-level" description:"override the configured log level (debug, info, warn, error)"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		os.Exit(validate(opts.Config))
	}

	config, code := loadConfig(opts)
	if code != 0 {
		os.Exit(code)
	}

	backend, err := logging.NewZapBackend(logging.ZapConfig{
		Level:  config.Supervisor.LogLevel,
		Format: config.Supervisor.LogFormat,
		Output: "stderr",
	})
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer backend.Sync()

	logger := logging.NewLogger(logPrefix("hsu-supervisor"), backend.LogFuncs())

	logger.Infof("opts: %+v", opts)
	logger.Infof("Starting...")

	err = supervisor.Run(context.Background(), config, supervisor.RunOptions{
		ConfigFile:  opts.Config,
		RunDuration: time.Duration(opts.RunDuration) * time.Second,
	}, logger)
	if err != nil {
		logger.Errorf("Supervisor failed: %v", err)
		backend.Sync()
		os.Exit(exitCode(err))
	}

	logger.Infof("Done")
}

func loadConfig(opts flagOptions) (*supervisor.Config, int) {
	config, err := supervisor.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return nil, exitCode(err)
	}
	if opts.LogLevel != "" {
		config.Supervisor.LogLevel = opts.LogLevel
	}
	return config, 0
}

func validate(configFile string) int {
	config, err := supervisor.LoadConfigFromFile(configFile)
	if err != nil {
		fmt.Printf("Configuration invalid: %v\n", err)
		return exitCode(err)
	}

	summary := supervisor.GetConfigSummary(config)
	data, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(data))

	if summary.Error != "" {
		fmt.Printf("Configuration invalid: %s\n", summary.Error)
		if err := supervisor.ValidateConfig(config); err != nil {
			return exitCode(err)
		}
		return 1
	}
	fmt.Println("Configuration valid")
	return 0
}

// Startup failures get distinct exit codes so a service manager can tell
// a broken topology apart from a crash
func exitCode(err error) int {
	switch {
	case errors.IsCycleError(err):
		return 3
	case errors.IsConfigError(err), errors.IsIOError(err):
		return 2
	case errors.IsSpawnError(err):
		return 4
	default:
		return 1
	}
}
