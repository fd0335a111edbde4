package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Server name constraints
const (
	maxServerNameLength = 64
	serverNamePattern   = `^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`
)

var serverNameRegex = regexp.MustCompile(serverNamePattern)

// ValidateServerName checks if a server name meets requirements:
// - Alphanumeric characters, dots, hyphens, and underscores
// - Starts with an alphanumeric character
// - Maximum 64 characters
// - Not empty
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	if len(name) > maxServerNameLength {
		return fmt.Errorf("server name exceeds maximum length of %d characters", maxServerNameLength)
	}

	if !serverNameRegex.MatchString(name) {
		return fmt.Errorf("server name must start with a letter or digit and contain only alphanumeric characters, dots, hyphens, and underscores: %q", name)
	}

	return nil
}

// ValidateCommand checks that a launch command can be handed to the OS.
// Rejects empty or whitespace-only commands, null bytes and control characters.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if strings.Contains(command, "\x00") {
		return fmt.Errorf("command contains null byte: %q", command)
	}

	for _, r := range command {
		if unicode.IsControl(r) {
			return fmt.Errorf("command contains control character: %q", command)
		}
	}

	return nil
}

// ValidateArgs rejects launch arguments containing null bytes, which no
// platform can pass through exec.
func ValidateArgs(args []string) error {
	for i, arg := range args {
		if strings.Contains(arg, "\x00") {
			return fmt.Errorf("argument %d contains null byte: %q", i, arg)
		}
	}
	return nil
}

// ValidateEnvKey checks that an environment variable name is usable.
func ValidateEnvKey(key string) error {
	if key == "" {
		return fmt.Errorf("environment variable name cannot be empty")
	}
	if strings.ContainsAny(key, "=\x00") {
		return fmt.Errorf("environment variable name contains '=' or null byte: %q", key)
	}
	return nil
}
