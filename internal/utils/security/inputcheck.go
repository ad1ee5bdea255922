package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Limits struct {
	MaxString int // generic string max length (flag values, manifest fields)
	MaxPath   int // file path max length
	AllowNL   bool
	AllowTab  bool
}

func DefaultLimits() Limits {
	return Limits{
		MaxString: 4096,
		MaxPath:   4096,
		AllowNL:   true,
		AllowTab:  true,
	}
}

func ValidateString(name, s string, lim Limits) error {
	if s == "" {
		return nil
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s: invalid UTF-8", name)
	}
	if strings.ContainsRune(s, '\x00') {
		return fmt.Errorf("%s: contains NUL byte", name)
	}
	if utf8.RuneCountInString(s) > lim.MaxString {
		return fmt.Errorf("%s: too long (%d > %d)", name, utf8.RuneCountInString(s), lim.MaxString)
	}
	for _, r := range s {
		if r == '\n' && lim.AllowNL {
			continue
		}
		if r == '\t' && lim.AllowTab {
			continue
		}
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%s: contains non-printable/control runes", name)
		}
	}
	return nil
}

func ValidatePath(name, s string, lim Limits) error {
	pathLim := lim
	pathLim.MaxString = lim.MaxPath
	pathLim.AllowNL = false
	return ValidateString(name, s, pathLim)
}

// ---------- Cobra integration ----------

// AttachRecursive wires flag/argument input validation into every command
// under root via PersistentPreRunE.
func AttachRecursive(root *cobra.Command, lim Limits) {
	attach(root, lim)
	for _, c := range root.Commands() {
		AttachRecursive(c, lim)
	}
}

func attach(cmd *cobra.Command, lim Limits) {
	prev := cmd.PersistentPreRunE
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if err := validateFlagsAndArgs(c, args, lim); err != nil {
			return err
		}
		if prev != nil {
			return prev(c, args)
		}
		return nil
	}
}

func validateFlagsAndArgs(cmd *cobra.Command, args []string, lim Limits) error {
	for i, a := range args {
		if err := ValidateString(fmt.Sprintf("arg[%d]", i), a, lim); err != nil {
			return err
		}
	}

	var firstErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		name := fmt.Sprintf("flag --%s", f.Name)

		isPathy := strings.Contains(strings.ToLower(f.Name), "path") ||
			strings.Contains(strings.ToLower(f.Name), "file") ||
			strings.Contains(strings.ToLower(f.Name), "dir")

		check := func(n, v string) error {
			if v == "" {
				return nil
			}
			if isPathy {
				return ValidatePath(n, v, lim)
			}
			return ValidateString(n, v, lim)
		}

		switch f.Value.Type() {
		case "string":
			val, _ := cmd.Flags().GetString(f.Name)
			firstErr = check(name, val)
		case "stringSlice":
			vals, _ := cmd.Flags().GetStringSlice(f.Name)
			for i, v := range vals {
				if firstErr = check(fmt.Sprintf("%s[%d]", name, i), v); firstErr != nil {
					return
				}
			}
		case "stringArray":
			vals, _ := cmd.Flags().GetStringArray(f.Name)
			for i, v := range vals {
				if firstErr = check(fmt.Sprintf("%s[%d]", name, i), v); firstErr != nil {
					return
				}
			}
		default:
			// other flag types ignored for this control/UTF-8/length check
		}
	})
	return firstErr
}
