// Package auth resolves the Gemini API key for the command-line tool and
// checks it against the API before a long run starts.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// KeyEnv is the environment variable checked first for the API key.
const KeyEnv = "GEMINI_API_KEY"

const (
	credentialDir  = ".video-highlights"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// ErrNoKey is returned when no key source yields a key.
var ErrNoKey = errors.New("Gemini API key not found: set " + KeyEnv + " or store it in ~/" + credentialDir + "/" + credentialFile)

// GetAPIKey returns the key from GEMINI_API_KEY, falling back to the
// GPG-encrypted file ~/.video-highlights/credentials.gpg.
func GetAPIKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv(KeyEnv)); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := decryptCredentials()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key in environment or GPG file")
	return "", ErrNoKey
}

func decryptCredentials() (string, error) {
	credPath, err := credentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("credentials file %s: %w", credPath, err)
	}

	args := []string{"--decrypt", "--quiet"}
	if p := passphrasePath(); p != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", p)
	}
	args = append(args, credPath)

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gpg decrypt: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gpg decrypt: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func credentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// passphrasePath finds an owner-only .gpg-passphrase next to the
// executable or in the working directory, for non-interactive decryption.
func passphrasePath() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}

	for _, dir := range dirs {
		p := filepath.Join(dir, passphraseFile)
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.Mode().Perm()&0077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p
	}
	return ""
}
