package input

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func stream(raws ...RawEvent) []byte {
	var buf bytes.Buffer
	for _, raw := range raws {
		buf.Write(raw.Marshal())
	}
	return buf.Bytes()
}

// sequence builds n events for class whose payload encodes the index.
func sequence(class DeviceClass, n int) []byte {
	var raws []RawEvent
	for i := 0; i < n; i++ {
		switch class {
		case Buttons:
			raws = append(raws, key(uint16(i), 1), syn(SynReport))
		case Multitouch:
			raws = append(raws, abs(ABSMTTrackingID, int32(i)), abs(ABSMTPositionX, int32(i)), syn(SynReport),
				abs(ABSMTTrackingID, -1), syn(SynReport))
		case Stylus:
			raws = append(raws, abs(ABSX, int32(i)), syn(SynReport))
		}
	}
	return stream(raws...)
}

func index(t *testing.T, ev Event) int {
	t.Helper()
	switch e := ev.(type) {
	case KeyEvent:
		return int(e.Code)
	case TouchEvent:
		return int(e.TrackingID)
	case PenEvent:
		return int(e.X)
	}
	t.Fatalf("unexpected event %T", ev)
	return -1
}

// pipeSource ends its reader the way closing a device file does.
type pipeSource struct {
	*io.PipeReader
	w      *io.PipeWriter
	mu     sync.Mutex
	closed bool
}

func (p *pipeSource) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.w.CloseWithError(os.ErrClosed)
}

func TestMultiplexerMergesSources(t *testing.T) {
	const n = 200
	m := New(Options{Buffer: 4, Logger: zerolog.Nop()})
	for _, class := range []DeviceClass{Buttons, Multitouch, Stylus} {
		if err := m.Attach(class, io.NopCloser(bytes.NewReader(sequence(class, n)))); err != nil {
			t.Fatalf("attach %s: %v", class, err)
		}
	}

	counts := map[DeviceClass]int{}
	touchNext := 0
	timeout := time.After(5 * time.Second)
	for {
		var (
			ev Event
			ok bool
		)
		select {
		case ev, ok = <-m.Events():
		case <-timeout:
			t.Fatalf("stream did not close, counts %v", counts)
		}
		if !ok {
			break
		}
		class := ev.Source()
		idx := index(t, ev)
		if class == Multitouch {
			// each contact arrives as a down then an up
			if idx != touchNext/2 {
				t.Fatalf("multitouch out of order: got %d after %d events", idx, touchNext)
			}
			touchNext++
			counts[class]++
			continue
		}
		if idx != counts[class] {
			t.Fatalf("%s out of order: got %d want %d", class, idx, counts[class])
		}
		counts[class]++
	}
	if counts[Buttons] != n || counts[Stylus] != n || counts[Multitouch] != 2*n {
		t.Fatalf("unexpected totals %v", counts)
	}
}

func TestMultiplexerWaitsForConsumer(t *testing.T) {
	m := New(Options{Logger: zerolog.Nop()})
	if err := m.Attach(Buttons, io.NopCloser(bytes.NewReader(sequence(Buttons, 1)))); err != nil {
		t.Fatalf("attach: %v", err)
	}
	// The first reader may already be done; a second attach must still work
	// because nobody has started draining.
	time.Sleep(20 * time.Millisecond)
	if err := m.Attach(Stylus, io.NopCloser(bytes.NewReader(sequence(Stylus, 1)))); err != nil {
		t.Fatalf("second attach: %v", err)
	}
	var got int
	for range m.Events() {
		got++
	}
	if got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	if err := m.Attach(Buttons, io.NopCloser(bytes.NewReader(nil))); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after stream end, got %v", err)
	}
}

func TestMultiplexerReadErrorEndsOneReader(t *testing.T) {
	m := New(Options{Logger: zerolog.Nop()})
	truncated := sequence(Buttons, 1)
	truncated = append(truncated, 1, 2, 3)
	if err := m.Attach(Buttons, io.NopCloser(bytes.NewReader(truncated))); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Attach(Stylus, io.NopCloser(bytes.NewReader(sequence(Stylus, 3)))); err != nil {
		t.Fatalf("attach: %v", err)
	}
	total := 0
	for {
		if _, ok := m.Recv(); !ok {
			break
		}
		total++
	}
	if total != 4 {
		t.Fatalf("expected 4 events, got %d", total)
	}
}

func TestMultiplexerCloseClosesSources(t *testing.T) {
	pr, pw := io.Pipe()
	src := &pipeSource{PipeReader: pr, w: pw}
	m := New(Options{Logger: zerolog.Nop()})
	if err := m.Attach(Stylus, src); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := pw.Write(stream(abs(ABSX, 1), syn(SynReport))); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev, ok := m.Recv()
	if !ok {
		t.Fatalf("stream closed early")
	}
	if pen, _ := ev.(PenEvent); pen.X != 1 {
		t.Fatalf("unexpected first event %+v", ev)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-m.Events():
		if ok {
			t.Fatalf("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after Close")
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Fatalf("source was not closed")
	}
	if err := m.Attach(Buttons, io.NopCloser(bytes.NewReader(nil))); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStartOpensConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event9")
	if err := os.WriteFile(path, sequence(Buttons, 2), 0o600); err != nil {
		t.Fatalf("write device: %v", err)
	}
	m := New(Options{Paths: map[DeviceClass]string{Buttons: path}, Logger: zerolog.Nop()})
	if err := m.Start(Buttons); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(Stylus); err == nil {
		t.Fatalf("expected error for unconfigured class")
	}
	var got []Event
	for ev := range m.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
}

func TestStartMissingDevice(t *testing.T) {
	m := New(Options{Paths: map[DeviceClass]string{Stylus: filepath.Join(t.TempDir(), "missing")}, Logger: zerolog.Nop()})
	if err := m.Start(Stylus); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDefaultPaths(t *testing.T) {
	m := New(Options{})
	if path, _ := m.Path(Stylus); path != "/dev/input/event0" {
		t.Fatalf("unexpected stylus path %s", path)
	}
	if Gen2Paths[Multitouch] != "/dev/input/event2" {
		t.Fatalf("unexpected gen2 touch path")
	}
}
