// Package supervisor spawns and terminates the per-session coding
// assistant CLI processes and exposes the stdin/stdout line bridge the
// stream orchestrator talks through.
//
// Children are always spawned from an explicit argv vector — no shell
// is ever involved, so paths and session ids can never be interpreted
// as shell syntax. Each child gets its own process group (Setpgid) so
// termination signals reach grandchildren the CLI may fork.
package supervisor

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drawbridge/drawbridge/internal/common/errors"
	"github.com/drawbridge/drawbridge/internal/common/logger"
)

const (
	// scannerBufferSize bounds a single child output line.
	scannerBufferSize = 1024 * 1024
	// stderrBufferMax bounds the in-memory stderr diagnostics buffer.
	stderrBufferMax = 256 * 1024
	// linesBacklog decouples child output bursts from the consumer.
	linesBacklog = 256
)

// stderrRing keeps the most recent stderr lines within a byte budget.
// When the child misbehaves, the tail is what gets surfaced.
type stderrRing struct {
	mu       sync.Mutex
	maxBytes int
	size     int
	lines    []string
}

func newStderrRing(maxBytes int) *stderrRing {
	if maxBytes <= 0 {
		maxBytes = stderrBufferMax
	}
	return &stderrRing{maxBytes: maxBytes}
}

func (b *stderrRing) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	b.size += len(line)
	for b.size > b.maxBytes && len(b.lines) > 0 {
		b.size -= len(b.lines[0])
		b.lines = b.lines[1:]
	}
}

func (b *stderrRing) tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// Process supervises one CLI child bound to a project directory. A
// Process is reusable: after the child exits (or Stop reaps it) Start
// may be called again.
type Process struct {
	command []string
	dir     string
	logger  *logger.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	writer   *bufio.Writer
	stdin    io.WriteCloser
	lines    chan string
	stderr   *stderrRing
	done     chan struct{}
	stopOnce *sync.Once
	stop     chan struct{}
	exitErr  error
}

// NewProcess prepares a supervisor for the given argv vector rooted at
// projectPath. Nothing is spawned until Start.
func NewProcess(command []string, projectPath string, log *logger.Logger) *Process {
	return &Process{
		command: command,
		dir:     projectPath,
		logger:  log.WithComponent("supervisor"),
	}
}

// Start spawns the child with stdin/stdout pipes and stderr captured
// into the diagnostics ring. It fails when a child is already running
// or when the binary is not on PATH.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runningLocked() {
		return errors.Subprocess("process already running", nil)
	}
	if len(p.command) == 0 {
		return errors.ValidationError("command", "is required")
	}
	binary, err := exec.LookPath(p.command[0])
	if err != nil {
		return errors.Subprocess("binary not found on PATH: "+p.command[0], err)
	}

	cmd := exec.Command(binary, p.command[1:]...)
	cmd.Dir = p.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Subprocess("failed to attach stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Subprocess("failed to attach stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Subprocess("failed to attach stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return errors.Subprocess("failed to start process", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.writer = bufio.NewWriter(stdin)
	p.lines = make(chan string, linesBacklog)
	p.stderr = newStderrRing(stderrBufferMax)
	p.done = make(chan struct{})
	p.stop = make(chan struct{})
	p.stopOnce = &sync.Once{}
	p.exitErr = nil

	p.logger.Info("Child process started",
		zap.String("binary", binary),
		zap.String("dir", p.dir),
		zap.Int("pid", cmd.Process.Pid))

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readLines(stdout, p.lines, p.stop, &readers)
	go p.readStderr(stderr, p.stderr, &readers)
	go p.wait(cmd, &readers, p.done)
	return nil
}

// IsRunning reports whether a started child has not yet been reaped.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Process) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop terminates the child: graceful signal to the process group,
// wait up to timeout, then kill and wait unbounded for the reap.
// Calling Stop on a stopped (or never started) process is a no-op.
func (p *Process) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.runningLocked() {
		p.mu.Unlock()
		return nil
	}
	cmd := p.cmd
	done := p.done
	stopOnce := p.stopOnce
	stop := p.stop
	p.mu.Unlock()

	stopOnce.Do(func() { close(stop) })

	pgid, pgErr := syscall.Getpgid(cmd.Process.Pid)
	if pgErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	if pgErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = cmd.Process.Kill()
	}
	<-done
	return nil
}

// Bridge returns the line bridge for the running child.
func (p *Process) Bridge() (*Bridge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return nil, errors.Subprocess("process is not running", nil)
	}
	return &Bridge{writer: p.writer, lines: p.lines}, nil
}

// StderrTail returns the retained stderr diagnostics for the most
// recent child.
func (p *Process) StderrTail() string {
	p.mu.Lock()
	ring := p.stderr
	p.mu.Unlock()
	if ring == nil {
		return ""
	}
	return ring.tail()
}

// Done exposes the reap signal for the current child; nil before the
// first Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// ExitError returns the error cmd.Wait reported, once Done is closed.
func (p *Process) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) readLines(r io.ReadCloser, lines chan<- string, stop <-chan struct{}, readers *sync.WaitGroup) {
	defer readers.Done()
	defer close(lines)
	defer func() { _ = r.Close() }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stdout read ended", zap.Error(err))
	}
}

func (p *Process) readStderr(r io.ReadCloser, ring *stderrRing, readers *sync.WaitGroup) {
	defer readers.Done()
	defer func() { _ = r.Close() }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scannerBufferSize)
	for scanner.Scan() {
		ring.append(scanner.Text())
	}
}

// wait reaps the child after both pipe readers finish, records the
// exit error, and releases everyone blocked on done.
func (p *Process) wait(cmd *exec.Cmd, readers *sync.WaitGroup, done chan struct{}) {
	readers.Wait()
	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	if err != nil {
		p.logger.Info("Child process exited", zap.Error(err))
	} else {
		p.logger.Info("Child process exited cleanly")
	}
	close(done)
}

// Bridge is the stdin/stdout pair the orchestrator drives a child
// through.
type Bridge struct {
	mu     sync.Mutex
	writer *bufio.Writer
	lines  <-chan string
}

// SendCommand writes one command as UTF-8 text with a trailing newline
// and flushes so the child sees it immediately.
func (b *Bridge) SendCommand(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.writer.WriteString(text); err != nil {
		return errors.Subprocess("failed to write command", err)
	}
	if err := b.writer.WriteByte('\n'); err != nil {
		return errors.Subprocess("failed to write command", err)
	}
	if err := b.writer.Flush(); err != nil {
		return errors.Subprocess("failed to flush command", err)
	}
	return nil
}

// Lines yields child stdout one line at a time, trailing newline
// stripped. The channel closes on EOF.
func (b *Bridge) Lines() <-chan string {
	return b.lines
}
