package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/tis24dev/backupguard/internal/logging"
)

// GenerateChecksum calculates the SHA256 checksum of a file as lowercase hex.
func GenerateChecksum(ctx context.Context, logger *logging.Logger, filePath string) (string, error) {
	logger.Debug("Generating SHA256 checksum for: %s", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	checksum, err := checksumReader(ctx, file)
	if err != nil {
		return "", err
	}
	logger.Debug("Generated checksum: %s", checksum)
	return checksum, nil
}

func checksumReader(ctx context.Context, r io.Reader) (string, error) {
	hash := sha256.New()

	// Copy in chunks with context checking
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, err := hash.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("failed to write to hash: %w", err)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// VerifyChecksum compares a file against an expected checksum.
func VerifyChecksum(ctx context.Context, logger *logging.Logger, filePath, expectedChecksum string) (bool, error) {
	logger.Debug("Verifying checksum for: %s", filePath)

	actualChecksum, err := GenerateChecksum(ctx, logger, filePath)
	if err != nil {
		return false, fmt.Errorf("failed to generate checksum: %w", err)
	}

	matches := actualChecksum == expectedChecksum
	if matches {
		logger.Debug("Checksum verification passed")
	} else {
		logger.Warning("Checksum mismatch for %s! Expected: %s, Got: %s", filePath, expectedChecksum, actualChecksum)
	}

	return matches, nil
}

// isChecksum reports whether s looks like a SHA256 hex digest.
func isChecksum(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
