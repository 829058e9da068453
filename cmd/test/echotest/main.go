package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Name        string `long:"name" description:"name printed in every line" default:"echotest"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run before exiting (debug feature)"`
	ExitCode    int    `long:"exit-code" description:"exit code used when the run duration ends"`
	IgnoreTerm  bool   `long:"ignore-term" description:"ignore SIGTERM so the supervisor has to escalate to SIGKILL"`
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

	fmt.Printf("%s: running, pid: %d, opts: %+v\n", opts.Name, os.Getpid(), opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("%s: using RUN DURATION of %d seconds\n", opts.Name, opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if opts.IgnoreTerm {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case receivedSignal := <-sig:
			fmt.Printf("%s: received signal: %v\n", opts.Name, receivedSignal)
			fmt.Printf("%s: stopped\n", opts.Name)
			return
		case <-ctx.Done():
			fmt.Printf("%s: run duration elapsed, exiting with code %d\n", opts.Name, opts.ExitCode)
			os.Exit(opts.ExitCode)
		case now := <-ticker.C:
			fmt.Printf("%s: alive at %s\n", opts.Name, now.Format(time.RFC3339))
		}
	}
}
