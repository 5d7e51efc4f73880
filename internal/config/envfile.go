package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tis24dev/backupguard/pkg/utils"
)

// parseEnvFile reads KEY=VALUE lines. Blank lines and # comments are
// skipped, an optional "export " prefix is accepted and later keys win.
func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if utils.IsComment(line) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, lineNo)
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if key == "" {
			return nil, fmt.Errorf("%s:%d: empty key", path, lineNo)
		}
		raw[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
