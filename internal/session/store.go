// Package session maps phone numbers to on-disk session artifacts.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSuffix is appended to the normalized phone to form an artifact name.
const DefaultSuffix = ".session"

// minDigits is the fewest digits accepted as a phone number.
const minDigits = 6

// ErrInvalidPhone is returned by Path when phone does not name an artifact inside the store.
var ErrInvalidPhone = errors.New("session: invalid phone")

// ValidPhone reports whether raw input looks like an international phone number:
// a leading "+" followed by digits, optionally grouped with spaces or hyphens.
func ValidPhone(raw string) bool {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, "+")
	if !ok {
		return false
	}
	digits := 0
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= minDigits
}

// Normalize keeps the leading "+" and the digits. Applying it twice yields the same result.
func Normalize(phone string) string {
	phone = strings.TrimSpace(phone)
	plus := strings.HasPrefix(phone, "+")
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if plus {
		return "+" + digits
	}
	return digits
}

// ArtifactName returns the file name for phone: its digits plus suffix.
func ArtifactName(phone, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return strings.TrimPrefix(Normalize(phone), "+") + suffix
}

// Store owns the artifact directory.
type Store struct {
	dir    string
	suffix string
}

// NewStore prepares dir for artifacts.
func NewStore(dir, suffix string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir, suffix: suffix}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the deterministic artifact location for phone.
// It fails when phone has no digits or the name would leave the store directory.
func (s *Store) Path(phone string) (string, error) {
	if strings.TrimPrefix(Normalize(phone), "+") == "" {
		return "", ErrInvalidPhone
	}
	path := filepath.Join(s.dir, ArtifactName(phone, s.suffix))
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrInvalidPhone, phone, s.dir)
	}
	return path, nil
}

// Exists reports whether a regular, non-empty artifact is present at path.
func (s *Store) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// Companions lists auxiliary files named "<artifact>-*" next to path.
func (s *Store) Companions(path string) ([]string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := base + "-"
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// Remove deletes the artifact and its companions. Missing files are not an error.
func (s *Store) Remove(path string) error {
	var errs []error
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	companions, err := s.Companions(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	for _, c := range companions {
		if err := os.Remove(c); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
