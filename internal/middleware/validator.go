package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var hostPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-\[\]]+$`)

// ValidateHost accepts DNS names and IPv4/IPv6 literals. The host ends up
// in an ssh dial and on a subprocess argv, so anything shell-ish is out.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if len(host) > 255 {
		return fmt.Errorf("host too long (max 255 chars)")
	}
	if strings.ContainsAny(host, " \t\n\r") {
		return fmt.Errorf("host must not contain whitespace")
	}
	if !hostPattern.MatchString(host) {
		return fmt.Errorf("invalid host format: %s", host)
	}
	return nil
}

// ValidatePort validates a TCP port; 0 means "use the default".
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d (allowed: 1-65535)", port)
	}
	return nil
}

// ValidateName validates client and firewall display names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("name too long (max 255 chars)")
	}
	return nil
}

// ValidateUsername validates the login name used on the target device.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(username) > 128 {
		return fmt.Errorf("username too long (max 128 chars)")
	}
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", " "}
	for _, d := range dangerous {
		if strings.Contains(username, d) {
			return fmt.Errorf("invalid characters in username")
		}
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
