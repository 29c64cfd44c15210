package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeIdempotent(t *testing.T) {
	a := ArtifactName("+91 98-76-54-32-10", DefaultSuffix)
	b := ArtifactName("+919876543210", DefaultSuffix)
	if a != b {
		t.Fatalf("artifact names differ: %q vs %q", a, b)
	}
	if a != "919876543210.session" {
		t.Fatalf("artifact name = %q", a)
	}
	once := Normalize(" +1 555-0100 ")
	if twice := Normalize(once); twice != once {
		t.Fatalf("normalize not idempotent: %q -> %q", once, twice)
	}
}

func TestValidPhone(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"+919876543210", true},
		{"+123456", true},
		{"+12345", false},
		{"919876543210", false},
		{"", false},
		{"hello", false},
		{"  +919876543210  ", true},
		{"+91 98765-43210", true},
		{"+../x", false},
		{"+../probe", false},
		{"+12/34567", false},
		{"+1234567\x00", false},
		{"+123 456/..", false},
		{"++1234567", false},
	}
	for _, tc := range cases {
		if got := ValidPhone(tc.in); got != tc.want {
			t.Fatalf("ValidPhone(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStorePathAndRemove(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	path, err := st.Path("+44 20-7946")
	if err != nil || path != filepath.Join(dir, "44207946.session") {
		t.Fatalf("path = %q, %v", path, err)
	}

	if ok, err := st.Exists(path); err != nil || ok {
		t.Fatalf("exists before write = %v, %v", ok, err)
	}
	for _, p := range []string{path, path + "-journal", path + "-wal"} {
		if err := os.WriteFile(p, []byte("data"), 0o600); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	other := filepath.Join(dir, "44207946.sessionx")
	if err := os.WriteFile(other, []byte("keep"), 0o600); err != nil {
		t.Fatalf("write other: %v", err)
	}
	if ok, err := st.Exists(path); err != nil || !ok {
		t.Fatalf("exists after write = %v, %v", ok, err)
	}
	companions, err := st.Companions(path)
	if err != nil || len(companions) != 2 {
		t.Fatalf("companions = %v, %v", companions, err)
	}

	if err := st.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, p := range []string{path, path + "-journal", path + "-wal"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still present", p)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
	if err := st.Remove(path); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

func TestStoreExistsEmptyFile(t *testing.T) {
	st, err := NewStore(t.TempDir(), ".json")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	path, err := st.Path("+15550100")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok, _ := st.Exists(path); ok {
		t.Fatal("empty artifact must not count as present")
	}
}

func TestStorePathStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, in := range []string{"+../x", "+12/34567", "+1234567\x00", "+../../etc/passwd", "/", "+"} {
		path, err := st.Path(in)
		if err != nil {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("Path(%q) error = %v", in, err)
			}
			continue
		}
		if filepath.Dir(path) != filepath.Clean(dir) {
			t.Fatalf("Path(%q) = %q escapes %q", in, path, dir)
		}
	}
	if _, err := st.Path("+"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("Path without digits = %v", err)
	}
	path, err := st.Path("+../12/345")
	if err != nil || path != filepath.Join(dir, "12345.session") {
		t.Fatalf("separators must be dropped from the name: %q, %v", path, err)
	}
}

func TestArtifactNameDigitsOnly(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+919876543210", "919876543210.session"},
		{"+../probe", ".session"},
		{"+12/34567", "1234567.session"},
		{"+1234567\x00", "1234567.session"},
	}
	for _, tc := range cases {
		if got := ArtifactName(tc.in, DefaultSuffix); got != tc.want {
			t.Fatalf("ArtifactName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
