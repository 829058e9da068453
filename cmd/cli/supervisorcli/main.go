package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-supervisor/pkg/control"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

type flagOptions struct {
	Port    int `long:"port" description:"control port of the supervisor" required:"true"`
	Timeout int `long:"timeout" description:"request timeout in seconds" default:"10"`

	Args struct {
		Command string `positional-arg-name:"command" description:"status, units or shutdown"`
	} `positional-args:"yes" required:"yes"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
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

	backend, err := logging.NewZapBackend(logging.DefaultZapConfig())
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer backend.Sync()
	logger := logging.NewLogger(logPrefix("hsu-supervisor"), backend.LogFuncs())

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	defer cancel()

	conn, err := control.Dial(ctx, opts.Port)
	if err != nil {
		logger.Errorf("Failed to connect to supervisor on port %d: %v", opts.Port, err)
		os.Exit(1)
	}
	defer conn.Close()

	gateway := control.NewGRPCClientGateway(conn, logger)

	var result interface{}
	switch opts.Args.Command {
	case "status":
		result, err = gateway.Status(ctx)
	case "units":
		result, err = gateway.Units(ctx)
	case "shutdown":
		err = gateway.Shutdown(ctx)
		result = map[string]string{"shutdown": "requested"}
	default:
		fmt.Printf("Unknown command %q, expected status, units or shutdown\n", opts.Args.Command)
		os.Exit(1)
	}
	if err != nil {
		logger.Errorf("Command %s failed: %v", opts.Args.Command, err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Errorf("Failed to format result: %v", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
