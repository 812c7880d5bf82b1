package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// process is the handle for one running child. It is owned by a single Run
// call and never outlives it.
type process struct {
	cmd       *exec.Cmd
	stdout    *streamBuffer
	stderr    *streamBuffer
	pipes     []*os.File // read ends, closed by terminate
	copied    sync.WaitGroup
	waitDelay time.Duration
	done      chan struct{} // closed once the child has exited and been reaped
}

// start launches argv with its output connected to pipes the runner copies
// itself. The child writes to the pipe files directly, so Wait returns as
// soon as the child exits even when a descendant still holds the pipes.
func start(argv []string, dir string, limit int, waitDelay time.Duration) (*process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = nil // the null device
	cmd.SysProcAttr = sysProcAttr()

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, err
	}

	p := &process{
		cmd:       cmd,
		stdout:    newStreamBuffer(limit),
		stderr:    newStreamBuffer(limit),
		pipes:     []*os.File{outR, errR},
		waitDelay: waitDelay,
		done:      make(chan struct{}),
	}
	p.copied.Add(2)
	go p.copy(p.stdout, outR)
	go p.copy(p.stderr, errR)
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) copy(dst *streamBuffer, src *os.File) {
	defer p.copied.Done()
	_, _ = io.Copy(dst, src)
}

func (p *process) pid() int { return p.cmd.Process.Pid }

// exitCode is only valid once done is closed. A process killed by a signal
// reports -1.
func (p *process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// wait runs the bounded wait loop. Each iteration sleeps until stdout has
// data, the process exits, or the remaining budget elapses. On wake it
// checks the exit status first and drains stdout second, so output written
// just before exit is never lost. It reports whether the process exited
// within budget along with everything drained from stdout.
func (p *process) wait(ctx context.Context, budget time.Duration) (bool, []byte) {
	var (
		out    []byte
		exited bool
	)
	for budget > 0 {
		began := time.Now()
		timer := time.NewTimer(budget)
		select {
		case <-p.stdout.ready:
		case <-p.done:
		case <-timer.C:
		case <-ctx.Done():
			budget = 0
		}
		timer.Stop()

		select {
		case <-p.done:
			exited = true
		default:
		}
		out = append(out, p.stdout.drain()...)

		budget -= time.Since(began)
		if exited {
			break
		}
	}
	return exited, out
}

// terminate kills the process group, reaps the child and waits for the
// output copiers. Pipes still held open by a descendant outside the group
// are closed after waitDelay. Kill errors are ignored; termination is best
// effort.
func (p *process) terminate() {
	killGroup(p.cmd.Process)
	<-p.done

	copied := make(chan struct{})
	go func() {
		p.copied.Wait()
		close(copied)
	}()
	timer := time.NewTimer(p.waitDelay)
	defer timer.Stop()
	select {
	case <-copied:
	case <-timer.C:
		p.closePipes()
		<-copied
	}
	p.closePipes()
}

func (p *process) closePipes() {
	for _, f := range p.pipes {
		_ = f.Close()
	}
}

// streamBuffer accumulates one output stream up to a size cap and signals
// readiness on every write. Bytes beyond the cap are discarded.
type streamBuffer struct {
	mu      sync.Mutex
	pending bytes.Buffer
	written int
	limit   int
	dropped bool
	ready   chan struct{}
}

func newStreamBuffer(limit int) *streamBuffer {
	return &streamBuffer{limit: limit, ready: make(chan struct{}, 1)}
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	remaining := b.limit - b.written
	switch {
	case remaining <= 0:
		b.dropped = len(p) > 0 || b.dropped
	case len(p) > remaining:
		b.pending.Write(p[:remaining])
		b.written += remaining
		b.dropped = true
	default:
		b.pending.Write(p)
		b.written += len(p)
	}
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	// Report all bytes as consumed to avoid short write errors from io.Copy.
	return len(p), nil
}

// drain returns the bytes written since the previous drain.
func (b *streamBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending.Len() == 0 {
		return nil
	}
	data := bytes.Clone(b.pending.Bytes())
	b.pending.Reset()
	return data
}

func (b *streamBuffer) truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
