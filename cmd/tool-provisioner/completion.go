package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// completionTarget describes where one shell's completion script lives and
// how cobra generates it.
type completionTarget struct {
	gen  func(root *cobra.Command, w io.Writer) error
	dir  func(home string) string
	file string
}

var completionTargets = map[string]completionTarget{
	"bash": {
		gen:  func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletion(w) },
		dir:  func(home string) string { return filepath.Join(home, ".bash_completion.d") },
		file: "tool-provisioner.bash",
	},
	"zsh": {
		gen:  func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
		dir:  func(home string) string { return filepath.Join(home, ".zsh", "completion") },
		file: "_tool-provisioner",
	},
	"fish": {
		gen:  func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
		dir:  func(home string) string { return filepath.Join(home, ".config", "fish", "completions") },
		file: "tool-provisioner.fish",
	},
}

func createInstallCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install-completion",
		Short: "Install shell completion script",
		Long: `Generate the completion script for your shell and write it where the
shell picks it up. Bash, zsh and fish are supported; the shell is read from
$SHELL unless --shell is given.`,
		RunE: executeInstallCompletion,
	}
	cmd.Flags().String("shell", "", "Shell to install for (bash, zsh, fish)")
	cmd.Flags().Bool("force", false, "Overwrite an existing completion file")
	return cmd
}

func executeInstallCompletion(cmd *cobra.Command, args []string) error {
	shellType, err := cmd.Flags().GetString("shell")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if shellType == "" {
		shellType, err = detectShell()
		if err != nil {
			return err
		}
	}
	target, ok := completionTargets[shellType]
	if !ok {
		return fmt.Errorf("unsupported shell type: %s", shellType)
	}

	var buf bytes.Buffer
	if err := target.gen(cmd.Root(), &buf); err != nil {
		return fmt.Errorf("generating %s completion: %w", shellType, err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not determine home directory: %w", err)
	}
	dir := target.dir(home)

	// Bash optionally installs system-wide when asked for and writable.
	if shellType == "bash" && os.Getenv("TOOL_PROVISIONER_COMPLETION_SCOPE") == "system" {
		if systemDir := "/etc/bash_completion.d"; dirWritable(systemDir) {
			dir = systemDir
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, target.file)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("completion file already exists at %s. Use --force to overwrite", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("could not write completion file: %w", err)
	}

	fmt.Printf("Shell completion installed for %s at %s\n", shellType, path)
	return nil
}

// detectShell names the user's shell from $SHELL.
func detectShell() (string, error) {
	shellEnv := os.Getenv("SHELL")
	if shellEnv == "" {
		return "", fmt.Errorf("could not detect shell. Please specify with --shell flag")
	}
	for name := range completionTargets {
		if strings.Contains(shellEnv, name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("unsupported shell: %s. Please specify shell with --shell flag", shellEnv)
}

func dirWritable(p string) bool {
	tf, err := os.CreateTemp(p, ".writecheck-*")
	if err != nil {
		return false
	}
	tf.Close()
	_ = os.Remove(tf.Name())
	return true
}
