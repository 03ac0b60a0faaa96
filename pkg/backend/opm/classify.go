package opm

import (
	"bufio"
	"os"
	"strings"

	"reservoir/pkg/backend"
)

// Признаки в stderr и журнале PRT
var (
	errorMarkers = []string{
		"error:",
		"simulation aborted",
		"unrecoverable",
		"exception",
		"segmentation fault",
	}
	warningMarkers = []string{
		"warning:",
		"problem:",
		"convergence failure",
		"timestep chopped",
	}
)

const maxClassified = 20

// classify разбирает stderr и журнал на ошибки и предупреждения. Журнал
// читается построчно, повторы схлопываются.
func classify(exe *backend.Execution, logText string) (errs, warnings []string) {
	seen := make(map[string]bool)
	add := func(dst *[]string, line string) {
		if seen[line] || len(*dst) >= maxClassified {
			return
		}
		seen[line] = true
		*dst = append(*dst, line)
	}

	scan := func(text string) {
		sc := bufio.NewScanner(strings.NewReader(text))
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			lower := strings.ToLower(line)
			switch {
			case containsAny(lower, errorMarkers):
				add(&errs, line)
			case containsAny(lower, warningMarkers):
				add(&warnings, line)
			}
		}
	}

	if exe != nil {
		scan(exe.Stderr)
	}
	scan(logText)

	if exe != nil && exe.ExitCode != 0 && len(errs) == 0 {
		if tail := backend.Tail(exe.Stderr, 5); tail != "" {
			errs = append(errs, tail)
		}
	}
	return errs, warnings
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// readLog читает журнал PRT, если симулятор его оставил
func readLog(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
