// Package sandbox provides the static source scan and resource limits
// applied to plugins before and during execution. The scan is a
// heuristic gate against obviously dangerous constructs; the restricted
// interpreter remains the enforcement layer.
package sandbox

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenPatterns are source constructs that fail the static scan.
// Matching is plain substring search per line.
var forbiddenPatterns = []string{
	// Dynamic code loading.
	"load(",
	"loadstring(",
	"dofile(",
	"loadfile(",

	// Process and OS control.
	"os.execute",
	"os.exit",
	"os.remove",
	"os.rename",
	"io.popen",

	// Raw networking.
	`require("socket")`,
	`require('socket')`,

	// Interpreter escape hatches.
	"debug.",
	"package.loadlib",
}

// Violation describes one forbidden construct found by the scan.
type Violation struct {
	File    string
	Line    int
	Pattern string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: forbidden construct %q", v.File, v.Line, v.Pattern)
}

// ScanSource scans all .lua files under dir for forbidden constructs.
// An empty result means the scan passed. Unreadable files are reported
// as an error; a missing dir scans clean.
func ScanSource(dir string) ([]Violation, error) {
	var violations []Violation

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".lua" {
			return nil
		}

		found, err := scanFile(path)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source scan of %s: %w", dir, err)
	}

	return violations, nil
}

// scanFile scans a single file line by line.
func scanFile(path string) ([]Violation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var violations []Violation
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Full-line comments are not executable.
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}

		for _, pattern := range forbiddenPatterns {
			if strings.Contains(line, pattern) {
				violations = append(violations, Violation{
					File:    path,
					Line:    lineNum,
					Pattern: pattern,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return violations, nil
}
