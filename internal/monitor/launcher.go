package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Launcher starts and stops the agent fleet in local mode.
type Launcher interface {
	Launch(ctx context.Context, n int) error
	Stop(ctx context.Context) error
}

// ProcessLauncher spawns agents as child processes of the monitor.
type ProcessLauncher struct {
	// Executable is the swarm binary. Empty uses the running executable.
	Executable string

	// MonitorURL is passed to each agent
	MonitorURL string

	// ExtraArgs are appended to each agent command line
	ExtraArgs []string

	Logger *zap.Logger

	mu    sync.Mutex
	procs []*exec.Cmd
}

// Args returns the command line of the i-th agent, without the executable.
func (l *ProcessLauncher) Args(i int) []string {
	args := []string{"agent", "--monitor-url", l.MonitorURL, "--id", "agent-" + strconv.Itoa(i+1)}
	return append(args, l.ExtraArgs...)
}

// Launch spawns n agents. Processes started before a failure keep running
// until Stop.
func (l *ProcessLauncher) Launch(_ context.Context, n int) error {
	exe := l.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate swarm executable: %w", err)
		}
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for i := 0; i < n; i++ {
		cmd := exec.Command(exe, l.Args(i)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start agent %d: %w", i+1, err)
		}
		logger.Debug("agent process started", zap.Int("pid", cmd.Process.Pid))

		l.mu.Lock()
		l.procs = append(l.procs, cmd)
		l.mu.Unlock()
	}
	return nil
}

// Stop signals every child to terminate and kills those still running after
// a grace period.
func (l *ProcessLauncher) Stop(ctx context.Context) error {
	l.mu.Lock()
	procs := l.procs
	l.procs = nil
	l.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(procs))
	for _, cmd := range procs {
		wg.Add(1)
		go func(cmd *exec.Cmd) {
			defer wg.Done()
			errCh <- stopProcess(ctx, cmd)
		}(cmd)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stopProcess(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	grace := time.NewTimer(5 * time.Second)
	defer grace.Stop()
	select {
	case <-exited:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill agent %d: %w", cmd.Process.Pid, err)
	}
	<-exited
	return nil
}
