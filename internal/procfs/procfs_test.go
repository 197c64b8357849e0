package procfs

import (
	"testing"

	"github.com/spf13/afero"
)

func withMemFS(t *testing.T, files map[string]string) func() {
	t.Helper()
	mem := afero.NewMemMapFs()
	for path, content := range files {
		if err := afero.WriteFile(mem, path, []byte(content), 0o444); err != nil {
			t.Fatalf("seeding fake /proc: %v", err)
		}
	}
	old := FS
	FS = mem
	return func() { FS = old }
}

func TestReadCmdlineResolvesWrappedArgv0(t *testing.T) {
	restore := withMemFS(t, map[string]string{
		"/proc/42/cmdline": "/nix/store/abc-gcc/bin/.gcc-wrapped\x00-o\x00out.o\x00",
	})
	defer restore()

	argv, ok := ReadCmdline(42)
	if !ok {
		t.Fatalf("ReadCmdline(42) not ok")
	}
	want := []string{"gcc", "-o", "out.o"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv = %v, want %v", argv, want)
		}
	}
}

func TestReadCmdlineMissingProcess(t *testing.T) {
	restore := withMemFS(t, map[string]string{})
	defer restore()

	if _, ok := ReadCmdline(12345); ok {
		t.Fatalf("ReadCmdline for missing pid should report not-ok")
	}
}

func TestReadCmdlineDropsTrailingEmptyToken(t *testing.T) {
	restore := withMemFS(t, map[string]string{
		"/proc/7/cmdline": "sleep\x0010\x00",
	})
	defer restore()

	argv, ok := ReadCmdline(7)
	if !ok || len(argv) != 2 || argv[0] != "sleep" || argv[1] != "10" {
		t.Fatalf("argv = %v, ok %v, want [sleep 10]", argv, ok)
	}
}

func TestFindTargetDaemonsMatchesNameAndFlag(t *testing.T) {
	restore := withMemFS(t, map[string]string{
		"/proc/100/cmdline": "build-daemon\x00--daemon\x00",
		"/proc/200/cmdline": "build-daemon\x00--other-flag\x00",
		"/proc/300/cmdline": "bash\x00-c\x00echo hi\x00",
		"/proc/self/cmdline": "build-daemon\x00--daemon\x00",
	})
	defer restore()

	pids, err := FindTargetDaemons("build-daemon", "--daemon")
	if err != nil {
		t.Fatalf("FindTargetDaemons() err = %v", err)
	}
	if len(pids) != 1 || pids[0] != 100 {
		t.Fatalf("FindTargetDaemons() = %v, want [100]", pids)
	}
}

func TestFindTargetDaemonsNoMatches(t *testing.T) {
	restore := withMemFS(t, map[string]string{
		"/proc/1/cmdline": "init\x00",
	})
	defer restore()

	pids, err := FindTargetDaemons("build-daemon", "--daemon")
	if err != nil {
		t.Fatalf("FindTargetDaemons() err = %v", err)
	}
	if len(pids) != 0 {
		t.Fatalf("FindTargetDaemons() = %v, want empty", pids)
	}
}
