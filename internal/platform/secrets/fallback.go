package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// loadFallbackFile reads KEY=VALUE lines where KEY is a secret reference, e.g.
//
//	secret://firebase-credentials=/path/or/json
//	secret://firebase-credentials?version=3={...}
//
// A missing file yields an empty set.
func loadFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	path = strings.TrimSpace(path)
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return values, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			continue
		}
		version := ref.Version
		if version == "" {
			version = "latest"
			values[ref.Canonical] = value
		}
		values[cacheKey(ref.Canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		return values, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

// splitFallbackLine splits on the first '=' after the reference's query string,
// so "secret://x?version=2=value" keeps its version.
func splitFallbackLine(line string) (string, string, bool) {
	start := 0
	if q := strings.Index(line, "?"); q >= 0 {
		if eq := strings.Index(line[q:], "="); eq >= 0 {
			start = q + eq + 1
		}
	}
	idx := strings.Index(line[start:], "=")
	if idx < 0 {
		return "", "", false
	}
	idx += start
	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	return key, value, key != ""
}
