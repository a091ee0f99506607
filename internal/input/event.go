// Package input reads evdev devices and merges their decoded events into a
// single channel.
package input

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unsafe"
)

// DeviceClass identifies which physical input an event came from.
type DeviceClass int

const (
	Buttons DeviceClass = iota
	Multitouch
	Stylus
)

func (c DeviceClass) String() string {
	switch c {
	case Buttons:
		return "buttons"
	case Multitouch:
		return "multitouch"
	case Stylus:
		return "stylus"
	}
	return fmt.Sprintf("device(%d)", int(c))
}

// ParseDeviceClass accepts the names produced by String.
func ParseDeviceClass(name string) (DeviceClass, error) {
	for _, c := range []DeviceClass{Buttons, Multitouch, Stylus} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("input: unknown device class %q", name)
}

const (
	EVSyn = 0x00
	EVKey = 0x01
	EVAbs = 0x03

	SynReport  = 0x00
	SynDropped = 0x03

	ABSX            = 0x00
	ABSY            = 0x01
	ABSPressure     = 0x18
	ABSDistance     = 0x19
	ABSTiltX        = 0x1a
	ABSTiltY        = 0x1b
	ABSMTSlot       = 0x2f
	ABSMTTouchMajor = 0x30
	ABSMTPositionX  = 0x35
	ABSMTPositionY  = 0x36
	ABSMTTrackingID = 0x39
	ABSMTPressure   = 0x3a

	BTNToolPen    = 0x140
	BTNToolRubber = 0x141
	BTNToolFinger = 0x145
	BTNTouch      = 0x14a
	BTNStylus     = 0x14b
	BTNStylus2    = 0x14c

	KEYHome   = 102
	KEYLeft   = 105
	KEYRight  = 106
	KEYPower  = 116
	KEYWakeUp = 143
)

// RawEvent is struct input_event. The timeval is two native longs, so a
// record is 16 bytes on the 32-bit tablets and 24 on 64-bit hosts.
type RawEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const longSize = int(unsafe.Sizeof(uintptr(0)))

// RawEventSize is the size of one record read from an event device.
const RawEventSize = 2*longSize + 8

func (ev RawEvent) Time() time.Time {
	return time.Unix(ev.Sec, ev.Usec*1000)
}

func readRawEvent(r io.Reader) (RawEvent, error) {
	var buf [RawEventSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return RawEvent{}, err
	}
	return decodeRawEvent(buf[:]), nil
}

func decodeRawEvent(b []byte) RawEvent {
	var ev RawEvent
	le := binary.LittleEndian
	if longSize == 8 {
		ev.Sec = int64(le.Uint64(b[0:]))
		ev.Usec = int64(le.Uint64(b[8:]))
	} else {
		ev.Sec = int64(int32(le.Uint32(b[0:])))
		ev.Usec = int64(int32(le.Uint32(b[4:])))
	}
	rest := b[2*longSize:]
	ev.Type = le.Uint16(rest[0:])
	ev.Code = le.Uint16(rest[2:])
	ev.Value = int32(le.Uint32(rest[4:]))
	return ev
}

// Marshal encodes ev in the native record layout.
func (ev RawEvent) Marshal() []byte {
	b := make([]byte, RawEventSize)
	le := binary.LittleEndian
	if longSize == 8 {
		le.PutUint64(b[0:], uint64(ev.Sec))
		le.PutUint64(b[8:], uint64(ev.Usec))
	} else {
		le.PutUint32(b[0:], uint32(ev.Sec))
		le.PutUint32(b[4:], uint32(ev.Usec))
	}
	rest := b[2*longSize:]
	le.PutUint16(rest[0:], ev.Type)
	le.PutUint16(rest[2:], ev.Code)
	le.PutUint32(rest[4:], uint32(ev.Value))
	return b
}

// Event is a decoded input event: a KeyEvent, TouchEvent or PenEvent.
type Event interface {
	Source() DeviceClass
	Time() time.Time
}

type KeyState int

const (
	KeyReleased KeyState = 0
	KeyPressed  KeyState = 1
	KeyRepeated KeyState = 2
)

func (s KeyState) String() string {
	switch s {
	case KeyReleased:
		return "released"
	case KeyPressed:
		return "pressed"
	case KeyRepeated:
		return "repeated"
	}
	return fmt.Sprintf("keystate(%d)", int(s))
}

type KeyEvent struct {
	Code  uint16
	State KeyState
	At    time.Time
}

func (e KeyEvent) Source() DeviceClass { return Buttons }
func (e KeyEvent) Time() time.Time     { return e.At }

type TouchPhase int

const (
	TouchDown TouchPhase = iota
	TouchMove
	TouchUp
)

func (p TouchPhase) String() string {
	switch p {
	case TouchDown:
		return "down"
	case TouchMove:
		return "move"
	case TouchUp:
		return "up"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// TouchEvent is one multitouch slot update. Coordinates are in the
// digitizer's units.
type TouchEvent struct {
	Slot       int
	TrackingID int32
	Phase      TouchPhase
	X          int32
	Y          int32
	Pressure   int32
	At         time.Time
}

func (e TouchEvent) Source() DeviceClass { return Multitouch }
func (e TouchEvent) Time() time.Time     { return e.At }

type PenTool int

const (
	ToolNone PenTool = iota
	ToolPen
	ToolRubber
)

func (t PenTool) String() string {
	switch t {
	case ToolNone:
		return "none"
	case ToolPen:
		return "pen"
	case ToolRubber:
		return "rubber"
	}
	return fmt.Sprintf("tool(%d)", int(t))
}

// PenEvent is one stylus sample.
type PenEvent struct {
	Tool     PenTool
	X        int32
	Y        int32
	Pressure int32
	Distance int32
	TiltX    int32
	TiltY    int32
	Touching bool
	Button   bool
	At       time.Time
}

func (e PenEvent) Source() DeviceClass { return Stylus }
func (e PenEvent) Time() time.Time     { return e.At }

// InRange reports whether a tool is near enough for the digitizer to track.
func (e PenEvent) InRange() bool { return e.Tool != ToolNone }
