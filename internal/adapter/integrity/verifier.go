package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/semmidev/restorepoint/internal/domain"
)

type Verifier struct {
	maxSize int64
}

// New returns a verifier rejecting artifacts larger than maxSize bytes.
// A non-positive maxSize disables the ceiling.
func New(maxSize int64) *Verifier {
	return &Verifier{maxSize: maxSize}
}

// Verify returns an *domain.IntegrityError when path is missing, empty or
// larger than the configured ceiling.
func (v *Verifier) Verify(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &domain.IntegrityError{Path: path, Reason: fmt.Sprintf("cannot stat artifact: %v", err)}
	}
	if info.IsDir() {
		return &domain.IntegrityError{Path: path, Reason: "artifact is a directory"}
	}
	if info.Size() == 0 {
		return &domain.IntegrityError{Path: path, Reason: "artifact is empty"}
	}
	if v.maxSize > 0 && info.Size() > v.maxSize {
		return &domain.IntegrityError{
			Path:   path,
			Reason: fmt.Sprintf("artifact size %d exceeds maximum %d", info.Size(), v.maxSize),
		}
	}
	return nil
}

func (v *Verifier) Valid(path string) bool {
	return v.Verify(path) == nil
}

// Checksum streams path once through SHA-256 and returns the hex digest.
func (v *Verifier) Checksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Matches recomputes the checksum of path and compares it with expected.
func (v *Verifier) Matches(path, expected string) error {
	actual, err := v.Checksum(path)
	if err != nil {
		return &domain.IntegrityError{Path: path, Reason: err.Error()}
	}
	if actual != expected {
		return &domain.IntegrityError{
			Path:   path,
			Reason: fmt.Sprintf("checksum mismatch: expected %s, got %s", expected, actual),
		}
	}
	return nil
}
