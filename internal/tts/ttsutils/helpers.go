// Package ttsutils provides the file and path helpers shared by the turn pipeline and
// its generation backends.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvGenerationRepo names a checkout that contains the generation script.
const EnvGenerationRepo = "GENERATION_REPO"

const (
	defaultScriptName      = "generation.py"
	examplesDirName        = "examples"
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

const sizeStep = 1024

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// Audio extensions accepted for uploaded recordings.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
	extWEBM = ".webm"
)

const (
	errFmtFailedToCreateDir           = "failed to create directory %s: %w"
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingScriptPath     = "error checking script path %q: %w"
	errFmtScriptNotFound              = "%w: tried %s"
)

// ErrScriptNotFound is returned when no generation script can be located.
var ErrScriptNotFound = errors.New("generation script not found")

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// resolveSinglePath returns the absolute path and found=true when path exists. A
// missing path is not an error; any other stat failure is.
func resolveSinglePath(path string) (resolvedPath string, found bool, err error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		absPath, errAbs := filepath.Abs(path)
		if errAbs != nil {
			return "", false, fmt.Errorf(errFmtCouldNotResolveAbsolutePath, path, errAbs)
		}

		return absPath, true, nil
	} else if !os.IsNotExist(statErr) {
		return "", false, fmt.Errorf(errFmtErrorCheckingScriptPath, path, statErr)
	}

	return "", false, nil
}

// ResolveScriptPath locates the generation script. It tries the configured path, then
// examples/generation.py under the working directory, then the same file under the
// checkout named by GENERATION_REPO.
func ResolveScriptPath(configured string) (string, error) {
	var candidates []string

	if configured != "" {
		candidates = append(candidates, configured)
	}

	candidates = append(candidates, filepath.Join(examplesDirName, defaultScriptName))

	if repo := os.Getenv(EnvGenerationRepo); repo != "" {
		candidates = append(candidates, filepath.Join(repo, examplesDirName, defaultScriptName))
	}

	for _, path := range candidates {
		resolvedPath, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		} else if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf(errFmtScriptNotFound, ErrScriptNotFound, strings.Join(candidates, ", "))
}

// FormatDuration renders d for log lines: "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		minutes := d.Truncate(time.Minute)

		return fmt.Sprintf("%dm %.1fs", int(minutes.Minutes()), (d - minutes).Seconds())
	default:
		hours := d.Truncate(time.Hour)

		return fmt.Sprintf("%dh %dm", int(hours.Hours()), int((d - hours).Minutes()))
	}
}

// FormatFileSize renders a byte count with a binary unit, e.g. "1.5 MB".
func FormatFileSize(size int64) string {
	if size < sizeStep {
		return fmt.Sprintf("%d B", size)
	}

	value := float64(size) / sizeStep
	unit := 0

	for value >= sizeStep && unit < len(sizeUnits)-1 {
		value /= sizeStep
		unit++
	}

	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC, extWEBM:
		return true
	default:
		return false
	}
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// FileStem returns the sanitized base name of filename without its extension, or ""
// when nothing usable remains.
func FileStem(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(SanitizeFilename(stem), ".")

	return stem
}
