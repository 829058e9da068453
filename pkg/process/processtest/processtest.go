// Package processtest provides a scriptable in-memory Launcher for tests
// of code that supervises unit processes.
package processtest

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/process"
)

// Plan scripts one launch. A zero ExitAfter keeps the process alive
// until it is signalled.
type Plan struct {
	SpawnErr   error
	ExitAfter  time.Duration
	ExitCode   int
	IgnoreTerm bool
}

// Script decides the plan for the nth launch (from 1) of a unit
type Script func(unitName string, n int) Plan

// Runs keeps every process alive until it is stopped
func Runs(unitName string, n int) Plan {
	return Plan{}
}

// ExitsAfter makes every process exit with code after d
func ExitsAfter(d time.Duration, code int) Script {
	return func(unitName string, n int) Plan {
		return Plan{ExitAfter: d, ExitCode: code}
	}
}

// FailsToSpawn makes every launch fail
func FailsToSpawn(unitName string, n int) Plan {
	return Plan{SpawnErr: errors.NewSpawnError("failed to start the process", nil).WithContext("unit", unitName)}
}

// PerUnit routes each unit to its own script, defaulting to Runs
func PerUnit(scripts map[string]Script) Script {
	return func(unitName string, n int) Plan {
		if script, ok := scripts[unitName]; ok {
			return script(unitName, n)
		}
		return Runs(unitName, n)
	}
}

// Launcher implements process.Launcher without starting anything
type Launcher struct {
	script Script

	mutex     sync.Mutex
	total     int
	launches  map[string]int
	order     []string
	stops     []string
	processes map[string][]*Process
}

func NewLauncher(script Script) *Launcher {
	return &Launcher{
		script:    script,
		launches:  make(map[string]int),
		processes: make(map[string][]*Process),
	}
}

func (l *Launcher) Launch(ctx context.Context, unitName string, execution process.ExecutionConfig) (process.Handle, error) {
	l.mutex.Lock()
	l.total++
	l.launches[unitName]++
	n := l.launches[unitName]
	pid := 1000 + l.total
	l.order = append(l.order, unitName)
	l.mutex.Unlock()

	plan := l.script(unitName, n)
	if plan.SpawnErr != nil {
		return nil, plan.SpawnErr
	}

	p := &Process{
		launcher:   l,
		unitName:   unitName,
		pid:        pid,
		instanceID: fmt.Sprintf("instance-%d", pid),
		ignoreTerm: plan.IgnoreTerm,
		exitCh:     make(chan int, 1),
	}
	l.mutex.Lock()
	l.processes[unitName] = append(l.processes[unitName], p)
	l.mutex.Unlock()

	if plan.ExitAfter > 0 {
		time.AfterFunc(plan.ExitAfter, func() { p.Exit(plan.ExitCode) })
	}
	return p, nil
}

// LaunchCount counts launch attempts of a unit, failed spawns included
func (l *Launcher) LaunchCount(unitName string) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.launches[unitName]
}

func (l *Launcher) TotalLaunches() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.total
}

// Order lists unit names in launch order
func (l *Launcher) Order() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.order...)
}

// StopOrder lists unit names in the order their processes were first signalled
func (l *Launcher) StopOrder() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.stops...)
}

func (l *Launcher) LastProcess(unitName string) *Process {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	processes := l.processes[unitName]
	if len(processes) == 0 {
		return nil
	}
	return processes[len(processes)-1]
}

func (l *Launcher) recordStop(unitName string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stops = append(l.stops, unitName)
}

// Process is a fake unit process. It exits with 128+signal when
// signalled, unless told to ignore SIGTERM.
type Process struct {
	launcher   *Launcher
	unitName   string
	pid        int
	instanceID string
	ignoreTerm bool

	exitOnce sync.Once
	exitCh   chan int

	mutex   sync.Mutex
	signals []syscall.Signal
}

func (p *Process) Pid() int           { return p.pid }
func (p *Process) InstanceID() string { return p.instanceID }

func (p *Process) Wait() (int, error) {
	return <-p.exitCh, nil
}

func (p *Process) Signal(sig syscall.Signal) error {
	p.record(sig)
	if !p.ignoreTerm || sig != syscall.SIGTERM {
		p.Exit(128 + int(sig))
	}
	return nil
}

func (p *Process) Kill() error {
	p.record(syscall.SIGKILL)
	p.Exit(128 + int(syscall.SIGKILL))
	return nil
}

// Exit ends the process with code; later calls are ignored
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() { p.exitCh <- code })
}

// Signals lists the signals received, in order
func (p *Process) Signals() []syscall.Signal {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

func (p *Process) record(sig syscall.Signal) {
	p.mutex.Lock()
	first := len(p.signals) == 0
	p.signals = append(p.signals, sig)
	p.mutex.Unlock()
	if first {
		p.launcher.recordStop(p.unitName)
	}
}
