package relay

import (
	"encoding/json"
	"time"

	"github.com/openclaw/remarkable-hal/internal/input"
)

const (
	MethodHello         = "device.hello"
	MethodInputEvent    = "input.event"
	MethodCommand       = "device.command"
	MethodCommandResult = "device.command.result"
)

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Envelope struct {
	ID     *json.RawMessage `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Params json.RawMessage  `json:"params,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *RPCError        `json:"error,omitempty"`
}

// Hello announces the device once per connection.
type Hello struct {
	Device     string   `json:"device"`
	Generation string   `json:"generation"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Inputs     []string `json:"inputs"`
	Commands   []string `json:"commands"`
}

type CommandRequest struct {
	RequestID string          `json:"requestId,omitempty"`
	Command   string          `json:"command"`
	Args      json.RawMessage `json:"args,omitempty"`
}

type CommandResult struct {
	RequestID string      `json:"requestId,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     *RPCError   `json:"error,omitempty"`
}

// InputEvent is the wire form of an input.Event. Only the fields that
// belong to Kind are set.
type InputEvent struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	TimeMillis int64  `json:"time"`

	Code  *uint16 `json:"code,omitempty"`
	State string  `json:"state,omitempty"`

	Slot       *int   `json:"slot,omitempty"`
	TrackingID *int32 `json:"trackingId,omitempty"`
	Phase      string `json:"phase,omitempty"`

	Tool     string `json:"tool,omitempty"`
	X        *int32 `json:"x,omitempty"`
	Y        *int32 `json:"y,omitempty"`
	Pressure *int32 `json:"pressure,omitempty"`
	Distance *int32 `json:"distance,omitempty"`
	TiltX    *int32 `json:"tiltX,omitempty"`
	TiltY    *int32 `json:"tiltY,omitempty"`
	Touching *bool  `json:"touching,omitempty"`
	Button   *bool  `json:"button,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// EncodeInputEvent flattens ev for the wire. ok is false for event types
// the relay does not know.
func EncodeInputEvent(ev input.Event) (InputEvent, bool) {
	out := InputEvent{Source: ev.Source().String(), TimeMillis: millis(ev.Time())}
	switch e := ev.(type) {
	case input.KeyEvent:
		out.Kind = "key"
		out.Code = ptr(e.Code)
		out.State = e.State.String()
	case input.TouchEvent:
		out.Kind = "touch"
		out.Slot = ptr(e.Slot)
		out.TrackingID = ptr(e.TrackingID)
		out.Phase = e.Phase.String()
		out.X = ptr(e.X)
		out.Y = ptr(e.Y)
		out.Pressure = ptr(e.Pressure)
	case input.PenEvent:
		out.Kind = "pen"
		out.Tool = e.Tool.String()
		out.X = ptr(e.X)
		out.Y = ptr(e.Y)
		out.Pressure = ptr(e.Pressure)
		out.Distance = ptr(e.Distance)
		out.TiltX = ptr(e.TiltX)
		out.TiltY = ptr(e.TiltY)
		out.Touching = ptr(e.Touching)
		out.Button = ptr(e.Button)
	default:
		return InputEvent{}, false
	}
	return out, true
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
