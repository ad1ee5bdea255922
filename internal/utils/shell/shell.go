package shell

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
)

// commandMap pins the commands the provisioner is allowed to run to their
// expected locations, so a poisoned PATH on the build host cannot substitute
// binaries. Absolute command paths bypass the map.
var commandMap = map[string]string{
	"apt-get":     "/usr/bin/apt-get",
	"apt-cache":   "/usr/bin/apt-cache",
	"bash":        "/usr/bin/bash",
	"dpkg":        "/usr/bin/dpkg",
	"dpkg-query":  "/usr/bin/dpkg-query",
	"lsb_release": "/usr/bin/lsb_release",
	"ln":          "/usr/bin/ln",
	"rm":          "/usr/bin/rm",
	"sh":          "/bin/sh",
	"uname":       "/usr/bin/uname",
}

// Executor runs a fully prepared shell command line. The default executor
// shells out through bash; tests install a MockExecutor instead.
type Executor interface {
	Run(cmdLine string, stdin string) (string, error)
}

type bashExecutor struct{}

func (bashExecutor) Run(cmdLine string, stdin string) (string, error) {
	cmd := exec.Command("bash", "-c", cmdLine)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Default is the executor used by the package-level Exec functions.
// Swap it in tests and restore it when done.
var Default Executor = bashExecutor{}

// MockCommand pairs a substring pattern with the canned result returned when
// an executed command line contains it.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error
}

type mockExecutor struct {
	mu       sync.Mutex
	commands []MockCommand
	calls    []string
}

// NewMockExecutor returns an Executor that matches command lines against the
// given patterns in order. Unmatched command lines return an error so tests
// fail loudly instead of silently succeeding.
func NewMockExecutor(commands []MockCommand) *mockExecutor {
	return &mockExecutor{commands: commands}
}

func (m *mockExecutor) Run(cmdLine string, stdin string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmdLine)
	m.mu.Unlock()

	for _, mc := range m.commands {
		if strings.Contains(cmdLine, mc.Pattern) {
			return mc.Output, mc.Error
		}
	}
	return "", fmt.Errorf("mock executor: no pattern matched command %q", cmdLine)
}

// Calls returns the command lines the mock has seen, in order.
func (m *mockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// IsCommandExist reports whether a command resolves on the current PATH.
func IsCommandExist(cmd string) bool {
	output, _ := Default.Run("command -v "+cmd, "")
	return strings.TrimSpace(output) != ""
}

func verifyCmdWithFullPath(cmd string) (string, error) {
	separators := []string{"&&", "||", ";"}

	sepIdx := -1
	sep := ""
	for _, s := range separators {
		if idx := strings.Index(cmd, s); idx != -1 && (sepIdx == -1 || idx < sepIdx) {
			sepIdx = idx
			sep = s
		}
	}
	if sepIdx != -1 {
		left, err := verifyCmdWithFullPath(strings.TrimSpace(cmd[:sepIdx]))
		if err != nil {
			return "", fmt.Errorf("failed to verify command: %w", err)
		}
		right, err := verifyCmdWithFullPath(strings.TrimSpace(cmd[sepIdx+len(sep):]))
		if err != nil {
			return "", fmt.Errorf("failed to verify command: %w", err)
		}
		return left + " " + sep + " " + right, nil
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return cmd, nil
	}
	bin := fields[0]
	if strings.HasPrefix(bin, "/") {
		return strings.Join(fields, " "), nil
	}
	fullPath, ok := commandMap[bin]
	if !ok {
		return "", fmt.Errorf("command %s not found in commandMap", bin)
	}
	fields[0] = fullPath
	return strings.Join(fields, " "), nil
}

// GetFullCmdStr prepares a command string: resolves mapped binaries to pinned
// paths and prepends any environment assignments.
func GetFullCmdStr(cmdStr string, envVal []string) (string, error) {
	fullPathCmdStr, err := verifyCmdWithFullPath(cmdStr)
	if err != nil {
		return "", fmt.Errorf("failed to verify command with full path: %w", err)
	}

	envValStr := ""
	for _, env := range envVal {
		envValStr += env + " "
	}

	return envValStr + fullPathCmdStr, nil
}

// ExecCmd executes a command and returns its combined output.
func ExecCmd(cmdStr string, envVal []string) (string, error) {
	log := logger.Logger()
	fullCmdStr, err := GetFullCmdStr(cmdStr, envVal)
	if err != nil {
		return "", fmt.Errorf("failed to get full command string: %w", err)
	}

	log.Debugf("Exec: [%s]", fullCmdStr)
	output, err := Default.Run(fullCmdStr, "")
	if err != nil {
		if output != "" {
			log.Infof(output)
		}
		return output, fmt.Errorf("failed to exec %s: %w", fullCmdStr, err)
	}
	if output != "" {
		log.Debugf(output)
	}
	return output, nil
}

// ExecCmdWithStream executes a command streaming stdout/stderr line by line
// through the logger. Long package-manager runs use this so build output stays
// attributable.
func ExecCmdWithStream(cmdStr string, envVal []string) (string, error) {
	log := logger.Logger()

	fullCmdStr, err := GetFullCmdStr(cmdStr, envVal)
	if err != nil {
		return "", fmt.Errorf("failed to get full command string: %w", err)
	}

	// Streaming only applies to the real executor; mocks return canned output.
	if _, ok := Default.(bashExecutor); !ok {
		return Default.Run(fullCmdStr, "")
	}

	cmd := exec.Command("bash", "-c", fullCmdStr)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe for command %s: %w", fullCmdStr, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe for command %s: %w", fullCmdStr, err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", fullCmdStr, err)
	}

	var outputStr string
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			str := scanner.Text()
			if str != "" {
				outputStr += str + "\n"
				log.Infof(str)
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			str := scanner.Text()
			if str != "" {
				outputStr += str + "\n"
				log.Infof(str)
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return outputStr, fmt.Errorf("failed to wait for command %s: %w", fullCmdStr, err)
	}

	return outputStr, nil
}
