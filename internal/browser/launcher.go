package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// Chromium refuses to open a profile while these point at a live process. A
// crash leaves them behind.
var singletonFiles = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	// ProfileDir is reused across runs so clearance cookies survive restarts.
	ProfileDir string
	// BinaryPath skips detection when set.
	BinaryPath   string
	WindowSize   string
	Headless     bool
	ReadyTimeout time.Duration
}

// Launcher starts a local Chromium for the agent when none is listening on
// the DevTools port.
type Launcher struct {
	cfg    Config
	cmd    *exec.Cmd
	exited chan struct{}
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,900"
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

func (l *Launcher) endpoint() string {
	return "http://" + net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

// Launch reuses a DevTools endpoint that already answers, otherwise starts
// the browser and waits until its endpoint does.
func (l *Launcher) Launch(ctx context.Context) error {
	if devToolsReady(ctx, l.endpoint()) {
		slog.Info("devtools endpoint already up, not launching a browser", "endpoint", l.endpoint())
		return nil
	}
	if portTaken(l.cfg.CDPAddress, l.cfg.CDPPort) {
		return fmt.Errorf("port %d is in use by something other than a DevTools endpoint", l.cfg.CDPPort)
	}

	bin := l.cfg.BinaryPath
	if bin == "" {
		var err error
		if bin, err = findChromium(); err != nil {
			return err
		}
	}
	if err := prepareProfile(l.cfg.ProfileDir); err != nil {
		return err
	}

	cmd := exec.Command(bin, l.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser %s: %w", bin, err)
	}
	l.cmd = cmd
	l.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		slog.Info("browser process exited", "pid", cmd.Process.Pid, "error", err)
		close(l.exited)
	}()
	slog.Info("browser process started", "path", bin, "pid", cmd.Process.Pid, "profile", l.cfg.ProfileDir)

	if err := l.waitReady(ctx); err != nil {
		l.Stop()
		return err
	}
	slog.Info("devtools endpoint ready", "endpoint", l.endpoint())
	return nil
}

// args builds the command line.
func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--window-size=" + l.cfg.WindowSize,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
		"--hide-crash-restore-bubble",
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, l.cfg.StartURL)
}

func (l *Launcher) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("devtools endpoint %s not ready: %w", l.endpoint(), ctx.Err())
		case <-l.exited:
			return errors.New("browser exited before its devtools endpoint came up")
		case <-tick.C:
			if devToolsReady(ctx, l.endpoint()) {
				return nil
			}
		}
	}
}

// Running reports whether a browser started by this launcher is still alive.
func (l *Launcher) Running() bool {
	if l.exited == nil {
		return false
	}
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

// Stop asks the browser to exit and kills it after a grace period. The
// profile is left in place for the next run.
func (l *Launcher) Stop() {
	if !l.Running() {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.exited:
	case <-time.After(5 * time.Second):
		slog.Warn("browser ignored SIGTERM, killing", "pid", l.cmd.Process.Pid)
		_ = l.cmd.Process.Kill()
		<-l.exited
	}
}

// prepareProfile creates dir and clears singleton files whose owner is gone.
func prepareProfile(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if lockOwnerAlive(filepath.Join(dir, "SingletonLock")) {
		return fmt.Errorf("profile %s is in use by a running browser", dir)
	}
	for _, name := range singletonFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("clear stale %s: %w", name, err)
		}
		slog.Info("cleared stale profile lock", "path", path)
	}
	return nil
}

// lockOwnerAlive reads the SingletonLock symlink ("<host>-<pid>") and reports
// whether that pid is alive on this host.
func lockOwnerAlive(path string) bool {
	target, err := os.Readlink(path)
	if err != nil {
		return false
	}
	host, _ := os.Hostname()
	i := len(target) - 1
	for i >= 0 && target[i] != '-' {
		i--
	}
	if i <= 0 || target[:i] != host {
		return false
	}
	pid, err := strconv.Atoi(target[i+1:])
	if err != nil || pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func devToolsReady(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func portTaken(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func findChromium() (string, error) {
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		for _, path := range []string{
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		} {
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", errors.New("no Chromium or Chrome binary found; set SOLVER_BROWSER_PATH")
}
