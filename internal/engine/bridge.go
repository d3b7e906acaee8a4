package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/HeroTools/open-wispr/internal/platform"
	"go.uber.org/zap"
)

// ResolveBridgePath locates the bundled whisper bridge binary. The env
// override lets users point at their own build.
func ResolveBridgePath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("OPENWISPR_BRIDGE_PATH")); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("OPENWISPR_BRIDGE_PATH is not executable: %w", err)
		}
		return override, nil
	}

	selfExe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}

	for _, candidate := range bridgePathCandidates(selfExe) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("whisper bridge not found near %s; reinstall OpenWispr from an official release, expected at ../libexec/whisper/%s", selfExe, bridgeBinaryName())
}

func bridgePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	bridgeName := bridgeBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, platform.NormalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", bridgeName),
		filepath.Join(binDir, "libexec", "whisper", bridgeName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, bridgeName),
		filepath.Join(binDir, bridgeName),
	}
}

func bridgeBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-bridge.exe"
	}
	return "whisper-bridge"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// stdioConn is a live bridge process speaking line-delimited JSON.
type stdioConn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	logger  *zap.Logger
}

// spawnBridge launches the bridge in serve mode. The ctx only bounds the
// launch; the process itself outlives it by design.
func spawnBridge(_ context.Context, executable, modelDir string, logger *zap.Logger) (bridgeConn, error) {
	cmd := exec.Command(executable, "--serve")
	cmd.Env = append(os.Environ(), "OPENWISPR_MODEL_DIR="+modelDir)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open bridge stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("open bridge stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start bridge: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("bridge started", zap.Int("pid", cmd.Process.Pid))

	return &stdioConn{cmd: cmd, stdin: stdin, scanner: scanner, logger: logger}, nil
}

func (c *stdioConn) Send(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.stdin.Write(data); err != nil {
		return err
	}
	return nil
}

func (c *stdioConn) Recv() (Response, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, io.ErrUnexpectedEOF
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

func (c *stdioConn) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}
