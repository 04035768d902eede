package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHost(t *testing.T) {
	root := t.TempDir()
	host := NewHost(root)
	ctx := context.Background()

	t.Run("setup writes into workspace", func(t *testing.T) {
		src := `
makedirs("workspace")
for i, text in enumerate(["RRr", "aRb", "RR"]):
    write_file("workspace/f%d.txt" % i, text)
append_file("workspace/f2.txt", "R")
`
		if err := host.Exec(ctx, "setup", src); err != nil {
			t.Fatalf("Exec: %v", err)
		}
		content, err := os.ReadFile(filepath.Join(root, "workspace", "f2.txt"))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(content) != "RRR" {
			t.Errorf("content = %q", content)
		}
	})

	t.Run("verify reads success", func(t *testing.T) {
		src := `
total = 0
for name in glob("workspace/*.txt"):
    total += read_file(name).count("R")
success = answer.strip() == str(total)
`
		ok, err := host.Verify(ctx, "verify", src, " 6\n")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !ok {
			t.Error("expected success")
		}
		ok, _ = host.Verify(ctx, "verify", src, "5")
		if ok {
			t.Error("wrong answer verified")
		}
	})

	t.Run("missing success is an error", func(t *testing.T) {
		if _, err := host.Verify(ctx, "verify", "x = 1", ""); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("paths are confined", func(t *testing.T) {
		err := host.Exec(ctx, "escape", `write_file("../evil.txt", "x")`)
		if err == nil || !strings.Contains(err.Error(), ErrOutsideWorkspace.Error()) {
			t.Errorf("expected confinement error, got %v", err)
		}
	})

	t.Run("step budget", func(t *testing.T) {
		h := NewHost(root, WithMaxSteps(1000))
		if err := h.Exec(ctx, "loop", "while True:\n    pass\n"); err == nil {
			t.Error("expected step budget error")
		}
	})

	t.Run("shell builtin", func(t *testing.T) {
		var gotDir, gotLine string
		h := NewHost(root, WithShell(func(_ context.Context, dir, line string) (string, int, error) {
			gotDir, gotLine = dir, line
			return "ok\n", 0, nil
		}))
		ok, err := h.Verify(ctx, "verify", `out, code = run("echo ok")
success = code == 0 and out == "ok\n"`, "")
		if err != nil || !ok {
			t.Fatalf("Verify = %v, %v", ok, err)
		}
		if gotDir != root || gotLine != "echo ok" {
			t.Errorf("shell called with %q %q", gotDir, gotLine)
		}
	})
}

func TestResolve(t *testing.T) {
	root := "/tmp/ws"
	for path, want := range map[string]string{
		"a/b.txt":       "/tmp/ws/a/b.txt",
		"./a/../c":      "/tmp/ws/c",
		"/tmp/ws/x":     "/tmp/ws/x",
		".":             "/tmp/ws",
		"..foo/bar.txt": "/tmp/ws/..foo/bar.txt",
	} {
		got, err := Resolve(root, path)
		if err != nil || got != want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", path, got, err, want)
		}
	}
	for _, path := range []string{"../x", "/etc/passwd", "a/../../x"} {
		if _, err := Resolve(root, path); !errors.Is(err, ErrOutsideWorkspace) {
			t.Errorf("Resolve(%q) = %v, want ErrOutsideWorkspace", path, err)
		}
	}
}
