package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessConfig describes a child process spoken to over its stdio.
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the parent's environment

	// Stderr receives the child's standard error. Nil discards it.
	Stderr io.Writer

	// Grace is how long Close waits for the child to exit on its own after
	// its stdin is closed before killing it.
	Grace time.Duration
}

// Process is a Transport backed by a child process's stdin and stdout.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// StartProcess starts the child described by cfg. The child is killed when
// ctx is cancelled.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if cfg.Command == "" {
		return nil, errors.New("transport: empty process command")
	}
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}
	cmd.Stderr = cfg.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Stdout is a plain os.Pipe rather than cmd.StdoutPipe: Wait must not
	// close it while the forwarding side is still reading.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = w
	err = cmd.Start()
	w.Close()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		grace:  cfg.Grace,
		done:   make(chan struct{}),
	}
	if p.grace <= 0 {
		p.grace = 2 * time.Second
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *Process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *Process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Close closes the child's stdin and waits for it to exit, killing it after
// the grace period. It returns the child's exit error, if any.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(p.grace):
			p.cmd.Process.Kill()
			<-p.done
		}
		p.stdout.Close()
	})
	return p.waitErr
}
