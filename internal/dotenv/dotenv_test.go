package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("Load error: %v", err)
	}
}

func TestLoad_SetsAndPreserves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n" +
		"export FOO=bar\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='x'\n" +
		"EXISTING=from_file\n" +
		"\n" +
		"=bad\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING", "from_env")
	for _, k := range []string{"FOO", "QUOTED", "SINGLE"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if got := os.Getenv("FOO"); got != "bar" {
		t.Errorf("FOO=%q, want %q", got, "bar")
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Errorf("QUOTED=%q, want %q", got, "hello world")
	}
	if got := os.Getenv("SINGLE"); got != "x" {
		t.Errorf("SINGLE=%q, want %q", got, "x")
	}
	if got := os.Getenv("EXISTING"); got != "from_env" {
		t.Errorf("EXISTING=%q, want existing value preserved", got)
	}
}
