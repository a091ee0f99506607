// Package swtfb is a client for the rm2fb software framebuffer server used on
// the reMarkable 2. Updates are posted to the server over a SysV message
// queue; the pixels live in a shared memory file the server reads.
//
// The message layout follows ddvk/remarkable2-framebuffer issue #11.
package swtfb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openclaw/remarkable-hal/internal/eink"
)

const (
	QueueKey = 0x2257c

	Width      = eink.PanelWidth
	Height     = eink.PanelHeight
	BufferSize = Width * Height * 2

	SemNameSize = 512
	PayloadSize = SemNameSize
	MessageSize = 4 + PayloadSize
)

// MessageType is the discriminant at the head of every message.
type MessageType int32

const (
	MsgInit           MessageType = 1
	MsgUpdate         MessageType = 2
	MsgExternalUpdate MessageType = 3
	MsgWait           MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MsgInit:
		return "init"
	case MsgUpdate:
		return "update"
	case MsgExternalUpdate:
		return "external-update"
	case MsgWait:
		return "wait"
	}
	return fmt.Sprintf("msgtype(%d)", int32(t))
}

// XochitlData is the region record xochitl reports for its own drawing.
type XochitlData struct {
	X1       int32
	Y1       int32
	X2       int32
	Y2       int32
	Waveform int32
	Flags    int32
}

// WaitData carries the NUL terminated name of the semaphore the server
// posts once the pending updates are on the panel.
type WaitData struct {
	SemName [SemNameSize]byte
}

var ErrNameTooLong = errors.New("swtfb: semaphore name too long")

func NewWaitData(name string) (WaitData, error) {
	var w WaitData
	if len(name) >= SemNameSize {
		return w, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	copy(w.SemName[:], name)
	return w, nil
}

func (w WaitData) Name() string {
	if i := bytes.IndexByte(w.SemName[:], 0); i >= 0 {
		return string(w.SemName[:i])
	}
	return string(w.SemName[:])
}

// Message is the decoded form of one queue message. Only the payload
// selected by Type is encoded.
type Message struct {
	Type     MessageType
	Update   eink.UpdateData
	External XochitlData
	Wait     WaitData
}

// Marshal encodes m into a MessageSize frame: little endian type followed
// by the zero padded payload.
func (m Message) Marshal() ([]byte, error) {
	frame := make([]byte, MessageSize)
	binary.LittleEndian.PutUint32(frame[:4], uint32(m.Type))

	var payload interface{}
	switch m.Type {
	case MsgInit:
		return frame, nil
	case MsgUpdate:
		payload = m.Update
	case MsgExternalUpdate:
		payload = m.External
	case MsgWait:
		payload = m.Wait
	default:
		return nil, fmt.Errorf("swtfb: unknown message type %d", int32(m.Type))
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, payload); err != nil {
		return nil, fmt.Errorf("swtfb: encode %s: %w", m.Type, err)
	}
	copy(frame[4:], buf.Bytes())
	return frame, nil
}

// Unmarshal decodes a frame produced by Marshal.
func Unmarshal(frame []byte) (Message, error) {
	var m Message
	if len(frame) != MessageSize {
		return m, fmt.Errorf("swtfb: frame is %d bytes, want %d", len(frame), MessageSize)
	}
	m.Type = MessageType(binary.LittleEndian.Uint32(frame[:4]))
	payload := bytes.NewReader(frame[4:])
	var err error
	switch m.Type {
	case MsgInit:
	case MsgUpdate:
		err = binary.Read(payload, binary.LittleEndian, &m.Update)
	case MsgExternalUpdate:
		err = binary.Read(payload, binary.LittleEndian, &m.External)
	case MsgWait:
		err = binary.Read(payload, binary.LittleEndian, &m.Wait)
	default:
		return m, fmt.Errorf("swtfb: unknown message type %d", int32(m.Type))
	}
	if err != nil {
		return m, fmt.Errorf("swtfb: decode %s: %w", m.Type, err)
	}
	return m, nil
}
