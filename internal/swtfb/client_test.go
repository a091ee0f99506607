//go:build linux

package swtfb

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/remarkable-hal/internal/eink"
	"github.com/openclaw/remarkable-hal/internal/namedsem"
	"github.com/rs/zerolog"
)

type fakeQueue struct {
	mu        sync.Mutex
	frames    [][]byte
	sendErr   error
	removeErr error
	removed   int
	onSend    func(Message)
}

func (q *fakeQueue) Send(frame []byte) error {
	q.mu.Lock()
	if q.sendErr != nil {
		q.mu.Unlock()
		return q.sendErr
	}
	q.frames = append(q.frames, append([]byte(nil), frame...))
	onSend := q.onSend
	q.mu.Unlock()
	if onSend != nil {
		if m, err := Unmarshal(frame); err == nil {
			onSend(m)
		}
	}
	return nil
}

func (q *fakeQueue) Remove() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed++
	return q.removeErr
}

func (q *fakeQueue) messages(t *testing.T) []Message {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, 0, len(q.frames))
	for _, frame := range q.frames {
		m, err := Unmarshal(frame)
		if err != nil {
			t.Fatalf("unmarshal sent frame: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func testConfig(t *testing.T, queue Queue) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Queue:      queue,
		BufferPath: filepath.Join(dir, "swtfb.01"),
		SemDir:     dir,
		Session:    NewSession(),
		PID:        4242,
		Logger:     zerolog.Nop(),
	}
}

func connect(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnectMapsBuffer(t *testing.T) {
	cfg := testConfig(t, &fakeQueue{})
	c := connect(t, cfg)
	info, err := os.Stat(cfg.BufferPath)
	if err != nil {
		t.Fatalf("stat buffer: %v", err)
	}
	if info.Size() != BufferSize {
		t.Fatalf("expected buffer of %d bytes, got %d", BufferSize, info.Size())
	}
	if len(c.Frame()) != BufferSize {
		t.Fatalf("expected mapping of %d bytes, got %d", BufferSize, len(c.Frame()))
	}
}

func TestConnectTruncatesOversizedBuffer(t *testing.T) {
	cfg := testConfig(t, &fakeQueue{})
	if err := os.WriteFile(cfg.BufferPath, make([]byte, BufferSize+4096), 0o644); err != nil {
		t.Fatalf("seed buffer: %v", err)
	}
	connect(t, cfg)
	info, err := os.Stat(cfg.BufferPath)
	if err != nil {
		t.Fatalf("stat buffer: %v", err)
	}
	if info.Size() != BufferSize {
		t.Fatalf("expected truncation to %d, got %d", BufferSize, info.Size())
	}
}

func TestConnectFailureReleasesQueue(t *testing.T) {
	queue := &fakeQueue{}
	cfg := testConfig(t, queue)
	cfg.BufferPath = filepath.Join(cfg.SemDir, "missing", "swtfb.01")
	if _, err := Connect(cfg); err == nil {
		t.Fatalf("expected error")
	}
	if queue.removed != 1 {
		t.Fatalf("expected queue removed on failed connect")
	}
	if active, nested := cfg.Session.Markers(); active || nested {
		t.Fatalf("failed connect must not register, got active=%t nested=%t", active, nested)
	}

	cfg.BufferPath = filepath.Join(cfg.SemDir, "swtfb.01")
	c := connect(t, cfg)
	if c.Nested() {
		t.Fatalf("retry after a failed connect must be primary")
	}
}

func TestSyntheticGeometry(t *testing.T) {
	c := connect(t, testConfig(t, &fakeQueue{}))
	fix := c.FixScreenInfo()
	stride := uint32(1404 * 2)
	if fix.LineLength != stride {
		t.Fatalf("expected stride %d, got %d", stride, fix.LineLength)
	}
	if fix.SMemLen != stride*1872 {
		t.Fatalf("expected smem_len %d, got %d", stride*1872, fix.SMemLen)
	}
	v := c.VarScreenInfo()
	if v.XRes != 1404 || v.YRes != 1872 || v.BitsPerPixel != 16 {
		t.Fatalf("unexpected mode %dx%d@%d", v.XRes, v.YRes, v.BitsPerPixel)
	}
	if v.Red.Offset != 11 || v.Green.Length != 6 || v.Blue.Offset != 0 {
		t.Fatalf("expected RGB565 layout")
	}
	if err := c.PutVarScreenInfo(v); !errors.Is(err, ErrGeometryFixed) {
		t.Fatalf("expected ErrGeometryFixed, got %v", err)
	}
}

func TestSendUpdate(t *testing.T) {
	queue := &fakeQueue{}
	c := connect(t, testConfig(t, queue))
	marker, err := c.SendUpdate(eink.Update{Region: image.Rect(0, 0, 100, 100), Waveform: eink.WaveformFastMono})
	if err != nil {
		t.Fatalf("send update: %v", err)
	}
	msgs := queue.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Type != MsgUpdate {
		t.Fatalf("expected UPDATE, got %s", m.Type)
	}
	r := m.Update.UpdateRegion
	if r.Left != 0 || r.Top != 0 || r.Width != 100 || r.Height != 100 {
		t.Fatalf("unexpected region %+v", r)
	}
	if m.Update.WaveformMode != uint32(eink.WaveformDU) || m.Update.Flags != 0 {
		t.Fatalf("unexpected waveform/flags %d/%d", m.Update.WaveformMode, m.Update.Flags)
	}
	if m.Update.UpdateMarker != marker {
		t.Fatalf("marker %d not carried, got %d", marker, m.Update.UpdateMarker)
	}
}

func TestSendUpdateKeepsCallOrder(t *testing.T) {
	queue := &fakeQueue{}
	c := connect(t, testConfig(t, queue))
	for i := 1; i <= 5; i++ {
		if _, err := c.SendUpdate(eink.Update{Region: image.Rect(0, 0, i*10, i*10)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i, m := range queue.messages(t) {
		if m.Update.UpdateRegion.Width != uint32((i+1)*10) || m.Update.UpdateMarker != uint32(i+1) {
			t.Fatalf("message %d out of order: %+v", i, m.Update)
		}
	}
}

func TestSendUpdateErrors(t *testing.T) {
	queue := &fakeQueue{}
	c := connect(t, testConfig(t, queue))
	if _, err := c.SendUpdate(eink.Update{Region: image.Rect(0, 0, 0, 10)}); !errors.Is(err, eink.ErrRegionEmpty) {
		t.Fatalf("expected empty region, got %v", err)
	}
	if _, err := c.SendUpdate(eink.Update{Region: image.Rect(0, 0, 10, Height+1)}); !errors.Is(err, eink.ErrRegionOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
	queue.sendErr = errors.New("queue full")
	if _, err := c.SendUpdate(eink.Update{Region: image.Rect(0, 0, 10, 10)}); err == nil {
		t.Fatalf("expected send error")
	}
	if len(queue.messages(t)) != 0 {
		t.Fatalf("nothing should have been sent")
	}
}

func TestSendExternalUpdate(t *testing.T) {
	queue := &fakeQueue{}
	c := connect(t, testConfig(t, queue))
	data := XochitlData{X1: 1, Y1: 2, X2: 3, Y2: 4, Waveform: 1}
	if err := c.SendExternalUpdate(data); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := queue.messages(t)
	if msgs[0].Type != MsgExternalUpdate || msgs[0].External != data {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
}

func TestWaitForUpdateCompleteTimesOut(t *testing.T) {
	queue := &fakeQueue{}
	cfg := testConfig(t, queue)
	c := connect(t, cfg)
	start := time.Now()
	done, err := c.WaitForUpdateComplete(1)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done {
		t.Fatalf("nothing posted the semaphore")
	}
	if elapsed < 150*time.Millisecond || elapsed > DefaultWaitTimeout+500*time.Millisecond {
		t.Fatalf("unexpected wait duration %v", elapsed)
	}
	msgs := queue.messages(t)
	if len(msgs) != 1 || msgs[0].Type != MsgWait || msgs[0].Wait.Name() != "/rm2fb.wait.4242" {
		t.Fatalf("unexpected wait message %+v", msgs)
	}
	if _, err := os.Stat(namedsem.Path(cfg.SemDir, "/rm2fb.wait.4242")); !os.IsNotExist(err) {
		t.Fatalf("semaphore must be unlinked, got %v", err)
	}
}

func TestWaitForUpdateCompleteSignalled(t *testing.T) {
	queue := &fakeQueue{}
	cfg := testConfig(t, queue)
	queue.onSend = func(m Message) {
		if m.Type != MsgWait {
			return
		}
		go func() {
			sem, err := namedsem.Open(cfg.SemDir, m.Wait.Name())
			if err != nil {
				t.Errorf("server open: %v", err)
				return
			}
			defer sem.Close()
			if err := sem.Post(); err != nil {
				t.Errorf("server post: %v", err)
			}
		}()
	}
	cfg.WaitTimeout = time.Second
	c := connect(t, cfg)
	done, err := c.WaitForUpdateComplete(1)
	if err != nil || !done {
		t.Fatalf("expected confirmed completion, got %t %v", done, err)
	}
	if _, err := os.Stat(namedsem.Path(cfg.SemDir, "/rm2fb.wait.4242")); !os.IsNotExist(err) {
		t.Fatalf("semaphore must be unlinked, got %v", err)
	}
}

func TestWaitSkipped(t *testing.T) {
	queue := &fakeQueue{}
	cfg := testConfig(t, queue)
	cfg.NoWait = true
	c := connect(t, cfg)
	done, err := c.WaitForUpdateComplete(1)
	if err != nil || done {
		t.Fatalf("expected skipped wait, got %t %v", done, err)
	}
	if len(queue.messages(t)) != 0 {
		t.Fatalf("skipped wait must not send")
	}
}

func TestWaitSkippedByEnv(t *testing.T) {
	t.Setenv(EnvNoWait, "1")
	queue := &fakeQueue{}
	c := connect(t, testConfig(t, queue))
	if done, err := c.WaitForUpdateComplete(1); err != nil || done {
		t.Fatalf("expected skipped wait, got %t %v", done, err)
	}
	if len(queue.messages(t)) != 0 {
		t.Fatalf("skipped wait must not send")
	}
}

func TestSessionPrimaryThenNested(t *testing.T) {
	session := NewSession()
	first := testConfig(t, &fakeQueue{})
	first.Session = session
	a := connect(t, first)
	active, nested := session.Markers()
	if !active || nested || a.Nested() {
		t.Fatalf("first client must be primary, got active=%t nested=%t", active, nested)
	}
	second := testConfig(t, &fakeQueue{})
	second.Session = session
	b := connect(t, second)
	active, nested = session.Markers()
	if !active || !nested || !b.Nested() {
		t.Fatalf("second client must be nested, got active=%t nested=%t", active, nested)
	}
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestProcessSessionExportsMarkers(t *testing.T) {
	unsetEnv(t, EnvActive, EnvNested)
	s := newProcessSession()
	if s.Register() {
		t.Fatalf("first client in a fresh process must be primary")
	}
	if os.Getenv(EnvActive) != "1" {
		t.Fatalf("expected %s exported", EnvActive)
	}
	if _, ok := os.LookupEnv(EnvNested); ok {
		t.Fatalf("%s must not be exported for a primary client", EnvNested)
	}
	if !s.Register() || os.Getenv(EnvNested) != "1" {
		t.Fatalf("second client must be nested and export %s", EnvNested)
	}
}

func TestProcessSessionSeededFromEnv(t *testing.T) {
	unsetEnv(t, EnvNested)
	t.Setenv(EnvActive, "1")
	s := newProcessSession()
	if active, nested := s.Markers(); !active || nested {
		t.Fatalf("expected active from env, got active=%t nested=%t", active, nested)
	}
	if !s.Register() {
		t.Fatalf("child of an active client must be nested")
	}
	if os.Getenv(EnvNested) != "1" {
		t.Fatalf("expected %s exported", EnvNested)
	}
}

func TestNewSessionDoesNotExport(t *testing.T) {
	unsetEnv(t, EnvActive, EnvNested)
	s := NewSession()
	s.Register()
	s.Register()
	if _, ok := os.LookupEnv(EnvActive); ok {
		t.Fatalf("standalone session exported %s", EnvActive)
	}
	if _, ok := os.LookupEnv(EnvNested); ok {
		t.Fatalf("standalone session exported %s", EnvNested)
	}
}

func TestCloseRemovesQueue(t *testing.T) {
	queue := &fakeQueue{}
	c, err := Connect(testConfig(t, queue))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if queue.removed != 1 {
		t.Fatalf("expected queue removed once, got %d", queue.removed)
	}
	if _, err := c.SendUpdate(eink.Update{Region: image.Rect(0, 0, 1, 1)}); err == nil {
		t.Fatalf("expected send after close to fail")
	}
}

func TestCloseQueueFailurePanics(t *testing.T) {
	queue := &fakeQueue{removeErr: errors.New("EPERM")}
	c, err := Connect(testConfig(t, queue))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = c.Close()
}
