package crypto

import (
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/semmidev/restorepoint/internal/domain"
)

const AgeExt = ".age"

// defaultMaxWorkFactor mirrors the ceiling age applies to scrypt identities.
const defaultMaxWorkFactor = 22

// AgeEncryptor seals artifacts with an age scrypt recipient derived from a
// passphrase.
type AgeEncryptor struct {
	passphrase string
	workFactor int
}

// NewAge returns an encryptor for passphrase. A zero workFactor uses the age
// default for new files.
func NewAge(passphrase string, workFactor int) *AgeEncryptor {
	return &AgeEncryptor{passphrase: passphrase, workFactor: workFactor}
}

func (e *AgeEncryptor) Configured() bool {
	return e != nil && e.passphrase != ""
}

// EncryptFile writes path+".age" and removes path.
func (e *AgeEncryptor) EncryptFile(path string) (string, error) {
	if !e.Configured() {
		return "", domain.ErrEncryptionKeyMissing
	}

	recipient, err := age.NewScryptRecipient(e.passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to create recipient: %w", err)
	}
	if e.workFactor > 0 {
		recipient.SetWorkFactor(e.workFactor)
	}

	destPath := path + AgeExt
	if err := e.encrypt(path, destPath, recipient); err != nil {
		os.Remove(destPath)
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove plaintext file: %w", err)
	}

	return destPath, nil
}

func (e *AgeEncryptor) encrypt(sourcePath, destPath string, recipient age.Recipient) (err error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close dest file: %w", closeErr)
		}
	}()

	w, err := age.Encrypt(dst, recipient)
	if err != nil {
		return fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("failed to encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish encryption: %w", err)
	}

	return nil
}

// DecryptFile opens sourcePath into destPath, keeping the source. A wrong
// passphrase or tampered ciphertext fails before any plaintext is kept.
func (e *AgeEncryptor) DecryptFile(sourcePath, destPath string) (err error) {
	if !e.Configured() {
		return domain.ErrEncryptionKeyMissing
	}

	identity, err := age.NewScryptIdentity(e.passphrase)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	if e.workFactor > defaultMaxWorkFactor {
		identity.SetMaxWorkFactor(e.workFactor)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	r, err := age.Decrypt(src, identity)
	if err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close dest file: %w", closeErr)
		}
		if err != nil {
			os.Remove(destPath)
		}
	}()

	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}

	return nil
}
