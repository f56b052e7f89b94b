// Package gateway locates, launches and supervises the RLBotServer binary.
package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/rlbot/go-interface/internal/logging"
	"github.com/rlbot/go-interface/relay"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrNotFound        = errors.New("server_not_found")
	ErrNotExecutable   = errors.New("server_not_executable")
	ErrNoPortAvailable = errors.New("no_port_available")
)

// DefaultExecutableName is the server binary's image name on this platform.
func DefaultExecutableName() string {
	if runtime.GOOS == "windows" {
		return "RLBotServer.exe"
	}
	return "RLBotServer"
}

// FindServerProcess scans OS processes for one whose image name matches.
// The listening port is parsed from the last command-line argument, falling
// back to the default port. A nil process with a nil error means not found.
func FindServerProcess(name string) (*process.Process, int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, relay.DefaultServerPort, fmt.Errorf("process scan: %w", err)
	}
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			// Processes can die or deny access mid-scan.
			continue
		}
		if n != name {
			continue
		}
		port := relay.DefaultServerPort
		if args, err := p.CmdlineSlice(); err == nil && len(args) > 1 {
			if v, err := strconv.Atoi(args[len(args)-1]); err == nil && v > 0 && v < 1<<16 {
				port = v
			}
		}
		return p, port, nil
	}
	return nil, relay.DefaultServerPort, nil
}

// findExecutable resolves root as either the executable file itself or a
// directory searched recursively for name.
func findExecutable(root, name string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if !info.IsDir() {
		return abs, nil
	}
	var found string
	_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", fmt.Errorf("%w: %s not found under %s", ErrNotFound, name, abs)
	}
	return found, nil
}

// ChoosePort scans upward from the default port for one that still binds on
// loopback, so a freshly launched server never collides with a running one.
func ChoosePort() (int, error) {
	for port := relay.DefaultServerPort; port < 1<<16; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(relay.DefaultServerIP, strconv.Itoa(port)))
		if err == nil {
			_ = ln.Close()
			return port, nil
		}
	}
	return 0, ErrNoPortAvailable
}

// Launch finds the server executable under root (or at root itself), makes
// sure it is runnable, picks a free port, and starts it in its own directory
// with the port as the sole argument.
func Launch(root, name string) (*os.Process, int, error) {
	path, err := findExecutable(root, name)
	if err != nil {
		return nil, 0, err
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if info.Mode()&0o111 == 0 {
			_ = os.Chmod(path, info.Mode()|0o111)
			info, err = os.Stat(path)
			if err != nil || info.Mode()&0o111 == 0 {
				return nil, 0, fmt.Errorf("%w: %s", ErrNotExecutable, path)
			}
		}
	}
	port, err := ChoosePort()
	if err != nil {
		return nil, 0, err
	}
	cmd := exec.Command(path, strconv.Itoa(port))
	cmd.Dir = filepath.Dir(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("launch %s: %w", path, err)
	}
	logging.L().Info("server_launched", "path", path, "pid", cmd.Process.Pid, "port", port)
	return cmd.Process, port, nil
}
