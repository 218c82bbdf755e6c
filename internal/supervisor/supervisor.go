package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/common"
)

// DefaultRingSize 保留的最近输出行数
const DefaultRingSize = 64

// Callbacks 子进程生命周期回调，在独立的 goroutine 上投递
type Callbacks interface {
	OnApplicationStarted()
	OnApplicationExited(code int)
}

// Supervisor 管理一个长期运行的子进程：启动、输出采集和终止上报
type Supervisor struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	command     []string
	ring        *outputRing
	exitCode    *int
	gracePeriod time.Duration
	callbacks   Callbacks
	logger      *zap.Logger
	waitDone    chan struct{}
}

// New 创建进程监管器。ringSize <= 0 时使用默认值
func New(ringSize int, gracePeriod time.Duration, callbacks Callbacks, logger *zap.Logger) *Supervisor {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Supervisor{
		ring:        newOutputRing(ringSize),
		gracePeriod: gracePeriod,
		callbacks:   callbacks,
		logger:      logger,
	}
}

// Spawn 启动子进程并开始采集合并后的 stdout/stderr。
// 已有存活进程时返回 ErrAlreadyRunning。
func (s *Supervisor) Spawn(command []string, env map[string]string) error {
	if len(command) == 0 {
		return common.NewHoyaError(common.ErrInternalState, "empty command", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.exitCode == nil {
		return fmt.Errorf("%w: %s", common.ErrAlreadyRunning, s.command[0])
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}
	// 子进程持有写端，父进程关闭自己的副本，进程退出时读端才能收到 EOF
	writer.Close()

	s.cmd = cmd
	s.command = command
	s.exitCode = nil
	s.waitDone = make(chan struct{})

	s.logger.Info("child process started",
		zap.String("command", command[0]),
		zap.Int("pid", cmd.Process.Pid))

	started := make(chan struct{})
	if s.callbacks != nil {
		go func() {
			defer close(started)
			s.callbacks.OnApplicationStarted()
		}()
	} else {
		close(started)
	}

	// 输出读取在专用 goroutine 上进行，先于任何输出上报启动
	go s.readOutput(reader)
	go s.waitForExit(cmd, started)

	return nil
}

// readOutput 逐行读入环形缓冲区
func (s *Supervisor) readOutput(reader *os.File) {
	defer reader.Close()
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		s.ring.Add(scanner.Text())
	}
}

// waitForExit 等待进程退出并上报退出码，每次 Spawn 恰好上报一次，
// 且在本次的启动回调返回之后才投递
func (s *Supervisor) waitForExit(cmd *exec.Cmd, started <-chan struct{}) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	s.exitCode = &code
	done := s.waitDone
	s.mu.Unlock()
	close(done)

	s.logger.Info("child process exited", zap.Int("exit_code", code))

	if s.callbacks != nil {
		go func() {
			<-started
			s.callbacks.OnApplicationExited(code)
		}()
	}
}

// Stop 请求优雅终止，超过宽限期后强制杀死。幂等，可多次调用
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	exited := s.exitCode != nil
	done := s.waitDone
	s.mu.Unlock()

	if cmd == nil || exited {
		return
	}

	s.logger.Info("stopping child process", zap.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to signal child process", zap.Error(err))
	}

	select {
	case <-done:
	case <-time.After(s.gracePeriod):
		s.logger.Warn("child process did not stop in time, killing",
			zap.Duration("grace_period", s.gracePeriod))
		_ = cmd.Process.Kill()
		<-done
	}
}

// RecentOutput 返回最近的输出行，按到达顺序排列
func (s *Supervisor) RecentOutput() []string {
	return s.ring.Lines()
}

// ExitCode 进程未终止时返回 (0, false)
func (s *Supervisor) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

// Running 返回进程是否已启动且尚未退出
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil && s.exitCode == nil
}

// Command 返回启动命令，未启动过时为空
func (s *Supervisor) Command() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command
}

// outputRing 固定容量的行缓冲区，写满后丢弃最旧的行
type outputRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newOutputRing(size int) *outputRing {
	return &outputRing{lines: make([]string, size)}
}

func (r *outputRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *outputRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}
