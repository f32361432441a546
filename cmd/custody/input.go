package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/creachadair/atomicfile"
	"github.com/creachadair/getpass"

	"github.com/ruteri/medical-record-custody/custody"
	"github.com/ruteri/medical-record-custody/interfaces"
)

const defaultFileType = "application/octet-stream"

func guessFileType(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return defaultFileType
}

// parseMeta turns key=value pairs into display metadata.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: metadata %q is not key=value", interfaces.ErrInvalidInput, pair)
		}
		meta[k] = v
	}
	return meta, nil
}

func promptPassword() (string, error) {
	return getpass.Prompt("Password: ")
}

// resolveSecret picks the secret for mode. In callerSupplied mode an empty
// password falls back to prompt.
func resolveSecret(mode custody.SecretMode, password string, prompt func() (string, error)) (custody.Secret, error) {
	if mode == custody.SecretFixedConstant {
		return custody.WalletOnly(), nil
	}
	if password == "" && prompt != nil {
		p, err := prompt()
		if err != nil {
			return custody.Secret{}, fmt.Errorf("read password: %w", err)
		}
		password = p
	}
	if password == "" {
		return custody.Secret{}, errors.New("a password is required")
	}
	return custody.Password(password), nil
}

// writeOutput writes data atomically to path, or to stdout when path is empty.
func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return atomicfile.Tx(path, 0600, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
