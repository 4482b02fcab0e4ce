package services

import (
	"fmt"
	"os/exec"
)

// installHints tells the user how to get a missing tool.
var installHints = map[string]string{
	"pdftotext": "install poppler (apt-get install poppler-utils, brew install poppler)",
	"docker":    "install Docker Engine or Docker Desktop",
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// RequireTool checks that name is on PATH and returns its location. Tools are
// never installed automatically.
func RequireTool(name string) (string, error) {
	path, err := lookPath(name)
	if err == nil {
		return path, nil
	}
	hint := installHints[name]
	if hint == "" {
		hint = "install it and make sure it is on PATH"
	}
	return "", fmt.Errorf("%w: %s not found: %s", ErrToolMissing, name, hint)
}
