//go:build linux

package display

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/remarkable-hal/internal/input"
	"github.com/openclaw/remarkable-hal/internal/swtfb"
	"github.com/rs/zerolog"
)

type nopQueue struct {
	frames int
}

func (q *nopQueue) Send([]byte) error {
	q.frames++
	return nil
}

func (q *nopQueue) Remove() error { return nil }

func writeMachine(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine")
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatalf("write machine: %v", err)
	}
	return path
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		want Generation
	}{
		{"reMarkable 2.0\n", Gen2},
		{"reMarkable Prototype 1\n", Gen1},
		{"reMarkable 1.0", Gen1},
	}
	for _, tc := range cases {
		got, err := Detect(writeMachine(t, tc.name))
		if err != nil {
			t.Fatalf("detect %q: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("detect %q: got %s want %s", tc.name, got, tc.want)
		}
	}
	if _, err := Detect(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestOpenGen2UsesClient(t *testing.T) {
	dir := t.TempDir()
	queue := &nopQueue{}
	backend, gen, err := Open(Config{
		MachinePath: writeMachine(t, "reMarkable 2.0"),
		Swtfb: swtfb.Config{
			Queue:      queue,
			BufferPath: filepath.Join(dir, "swtfb.01"),
			SemDir:     dir,
			Session:    swtfb.NewSession(),
			NoWait:     true,
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()
	if gen != Gen2 {
		t.Fatalf("expected gen2, got %s", gen)
	}
	if _, ok := backend.(*swtfb.Client); !ok {
		t.Fatalf("expected swtfb client, got %T", backend)
	}
	if got := backend.FixScreenInfo().SMemLen; got != 2808*1872 {
		t.Fatalf("unexpected smem_len %d", got)
	}
}

func TestOpenGen1MissingDevice(t *testing.T) {
	_, gen, err := Open(Config{
		Generation:  Gen1,
		Framebuffer: filepath.Join(t.TempDir(), "fb0"),
		Logger:      zerolog.Nop(),
	})
	if err == nil {
		t.Fatalf("expected open failure")
	}
	if gen != Gen1 {
		t.Fatalf("expected gen1, got %s", gen)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, _, err := Open(Config{Generation: 7, Logger: zerolog.Nop()}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestInputPaths(t *testing.T) {
	if Gen2.InputPaths()[input.Stylus] != "/dev/input/event1" {
		t.Fatalf("unexpected gen2 stylus path")
	}
	if Gen1.InputPaths()[input.Buttons] != "/dev/input/event2" {
		t.Fatalf("unexpected gen1 button path")
	}
	if o := Gen2.InputOrientation()[input.Stylus]; !o.SwapXY || !o.FlipY {
		t.Fatalf("unexpected gen2 stylus orientation %+v", o)
	}
	if o := Gen1.InputOrientation()[input.Multitouch]; !o.FlipX || !o.FlipY {
		t.Fatalf("unexpected gen1 touch orientation %+v", o)
	}
}
