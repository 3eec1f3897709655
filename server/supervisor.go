package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// WorkerFunc is the signature of a worker entry point: what a self-exec'd
// child runs once SupervisorConfig.ForkEnvVar tells it which fork index it
// is (see IsForkedChild). The Supervisor itself never calls one.
type WorkerFunc func(ctx context.Context, forkIndex int) error

// SupervisorConfig configures the forking parent described in §4.6
// "Forking and respawn". Go cannot safely fork() a running multi-threaded
// runtime, so forking here means self-exec: the parent re-invokes its own
// executable with ForkEnvVar set to the worker's fork index, and the
// re-invoked process, on seeing that variable (IsForkedChild), runs its
// worker directly instead of acting as a supervisor.
type SupervisorConfig struct {
	ForkCount       int
	NoRespawn       bool
	ShutdownGrace   time.Duration
	ForkEnvVar      string
	PreFork         func()
	Log             *zap.Logger
}

// crashWindow tracks a worker's exits for the crash-budget check: at most
// 3 crashes in any 15s window or 8 in any 60s window (§4.6).
type crashWindow struct {
	mu    sync.Mutex
	exits []time.Time
}

func (w *crashWindow) record(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exits = append(w.exits, now)
}

func (w *crashWindow) exceeded(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	var in15, in60 int
	for _, t := range w.exits {
		if now.Sub(t) <= 15*time.Second {
			in15++
		}
		if now.Sub(t) <= 60*time.Second {
			in60++
		}
	}
	return in15 > 3 || in60 > 8
}

// IsForkedChild reports whether this process was re-exec'd by a
// Supervisor as one fork worker, and returns its fork index if so.
func IsForkedChild(envVar string) (index int, ok bool) {
	v := os.Getenv(envVar)
	if v == "" {
		return 0, false
	}
	_, err := fmt.Sscanf(v, "%d", &index)
	return index, err == nil
}

// Supervisor is the parent process of §4.6's forking model: it re-execs
// itself ForkCount times, restarts crashed workers within a crash budget,
// and forwards shutdown signals with a SIGKILL escalation.
type Supervisor struct {
	cfg SupervisorConfig
	log *zap.Logger
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ForkCount < 1 {
		cfg.ForkCount = 1
	}
	if cfg.ForkEnvVar == "" {
		cfg.ForkEnvVar = "ACTIONRPC_FORK_INDEX"
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, log: log}
}

// Run starts ForkCount self-exec'd children and blocks until the
// supervisor is told to stop (via ctx or a fatal crash budget overrun).
// It exits non-zero (as the caller's process exit code) if the crash
// budget is exceeded for any worker.
func (sv *Supervisor) Run(ctx context.Context) error {
	if sv.cfg.PreFork != nil {
		sv.cfg.PreFork()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	shutdown := make(chan struct{})
	var shutdownOnce sync.Once
	triggerShutdown := func() { shutdownOnce.Do(func() { close(shutdown) }) }

	type worker struct {
		index int
		crash *crashWindow
	}
	workers := make([]*worker, sv.cfg.ForkCount)
	for i := range workers {
		workers[i] = &worker{index: i + 1, crash: &crashWindow{}}
	}

	var wg sync.WaitGroup
	fatal := make(chan error, sv.cfg.ForkCount)

	spawn := func(w *worker) (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		cmd := exec.Command(exe, os.Args[1:]...)
		cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", sv.cfg.ForkEnvVar, w.index))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	runWorker := func(w *worker) {
		defer wg.Done()
		for {
			select {
			case <-shutdown:
				return
			default:
			}

			cmd, err := spawn(w)
			if err != nil {
				sv.log.Error("failed to start worker", zap.Int("fork_index", w.index), zap.Error(err))
				fatal <- err
				return
			}

			done := make(chan error, 1)
			go func() { done <- cmd.Wait() }()

			select {
			case <-shutdown:
				_ = cmd.Process.Signal(syscall.SIGTERM)
				select {
				case <-done:
				case <-time.After(sv.cfg.ShutdownGrace):
					_ = cmd.Process.Kill()
					<-done
				}
				return
			case err := <-done:
				if err == nil {
					return // clean exit, no respawn
				}
				sv.log.Warn("worker exited abnormally", zap.Int("fork_index", w.index), zap.Error(err))
				if sv.cfg.NoRespawn {
					return
				}
				now := time.Now()
				w.crash.record(now)
				if w.crash.exceeded(now) {
					sv.log.Error("worker crash budget exceeded, terminating server group", zap.Int("fork_index", w.index))
					fatal <- fmt.Errorf("worker %d exceeded crash budget", w.index)
					triggerShutdown()
					return
				}
			}
		}
	}

	for _, w := range workers {
		wg.Add(1)
		go runWorker(w)
	}

	go func() {
		select {
		case <-ctx.Done():
			triggerShutdown()
		case <-sigCh:
			triggerShutdown()
		case <-shutdown:
			return
		}
		// A second signal while workers are still winding down escalates
		// past the grace period instead of waiting for it to elapse.
		select {
		case <-sigCh:
			os.Exit(1)
		case <-time.After(sv.cfg.ShutdownGrace + time.Second):
		}
	}()

	wg.Wait()
	close(fatal)
	for err := range fatal {
		if err != nil {
			return err
		}
	}
	return nil
}
