package internal

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SetupLogging builds the command logger: stderr plus a per-run file
// under ~/.descloc/logs. The returned logger is always usable; when the
// log file cannot be created it writes to stderr only and the error
// says why.
func SetupLogging(subcommand, dataset string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return logger, err
	}
	logDir := filepath.Join(homeDir, ".descloc", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return logger, err
	}

	if dataset == "" {
		dataset = "default"
	}
	hash := sha1.Sum([]byte(dataset))
	suffix := hex.EncodeToString(hash[:])[:8]
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("descloc-%s-%s-%s-%s.log", subcommand, sanitizeName(dataset), timestamp, suffix)
	logPath := filepath.Join(logDir, filename)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return logger, err
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, logFile))
	logger.Infof("Log file: %s", logPath)
	return logger, nil
}

// sanitizeName maps a dataset identifier to a filename-safe token.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	if b.Len() == 0 {
		return "dataset"
	}
	return b.String()
}
