package enforce

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Finding is one advisory hit from a source scan.
type Finding struct {
	Line        int    `json:"line"`
	Description string `json:"description"`
}

var throwawayPatterns = []struct {
	re          *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`\bprint\(`), "print statements (use logging instead)"},
	{regexp.MustCompile(`#\s*TODO`), "TODO comments (implement or remove)"},
	{regexp.MustCompile(`#\s*FIXME`), "FIXME comments (fix or remove)"},
	{regexp.MustCompile(`import\s+.*\*`), "wildcard imports (import specific modules)"},
	{regexp.MustCompile(`\bexec\(`), "dynamic execution (use proper function calls)"},
	{regexp.MustCompile(`\beval\(`), "dynamic evaluation (use proper parsing)"},
	{regexp.MustCompile(`\bglobals\(\)`), "global variable access (use proper scope)"},
	{regexp.MustCompile(`\blocals\(\)`), "local variable access (use proper scope)"},
}

// CheckThrowawayPatterns line-scans a script for patterns that mark
// throwaway code. A missing file yields no findings.
func CheckThrowawayPatterns(path string) []Finding {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var findings []Finding
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		for _, p := range throwawayPatterns {
			if p.re.MatchString(line) {
				findings = append(findings, Finding{Line: lineNo, Description: p.description})
			}
		}
	}
	return findings
}

var licenseMarkers = []string{
	"AGPL-3.0-only",
	"MIT License",
	"Apache License",
	"Copyright",
	"License:",
}

// HasLicenseHeader reports whether a source file carries a recognizable
// license marker. False for a missing or unreadable file.
func HasLicenseHeader(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	for _, marker := range licenseMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// HasTest reports whether a companion test file exists for the script.
func HasTest(path string) bool {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	candidates := []string{
		filepath.Join(dir, "test_"+stem+".py"),
		filepath.Join(dir, stem+"_test.py"),
		filepath.Join(dir, stem+"_test.go"),
		filepath.Join(dir, "tests", "test_"+stem+".py"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true
		}
	}
	return false
}

// HasPipelineStage reports whether the script is declared in a data
// pipeline: a dvc.yaml or .dvc marker next to it, or a per-script .dvc
// file.
func HasPipelineStage(path string) bool {
	dir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	candidates := []string{
		filepath.Join(dir, "dvc.yaml"),
		filepath.Join(dir, ".dvc"),
		filepath.Join(dir, fmt.Sprintf("%s.dvc", stem)),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true
		}
	}
	return false
}
