package input

// decoder turns raw records into events. Decoders are stateful and owned by
// a single reader.
type decoder interface {
	decode(ev RawEvent) []Event
}

func newDecoder(class DeviceClass) decoder {
	switch class {
	case Multitouch:
		return &touchDecoder{slots: map[int]*slotState{}}
	case Stylus:
		return &penDecoder{}
	default:
		return &keyDecoder{}
	}
}

// keyDecoder emits key events as they arrive; buttons carry no frame state.
type keyDecoder struct{}

func (d *keyDecoder) decode(ev RawEvent) []Event {
	if ev.Type != EVKey {
		return nil
	}
	return []Event{KeyEvent{Code: ev.Code, State: KeyState(ev.Value), At: ev.Time()}}
}

type slotState struct {
	trackingID int32
	x, y       int32
	pressure   int32
	active     bool
	phase      TouchPhase
	dirty      bool
}

// touchDecoder follows the type B multitouch protocol: slot selection,
// tracking ids for contact lifetime, one frame per SYN_REPORT.
type touchDecoder struct {
	slot     int
	slots    map[int]*slotState
	order    []int
	dropping bool
}

func (d *touchDecoder) current() *slotState {
	s, ok := d.slots[d.slot]
	if !ok {
		s = &slotState{trackingID: -1}
		d.slots[d.slot] = s
		d.order = append(d.order, d.slot)
	}
	return s
}

func (d *touchDecoder) decode(ev RawEvent) []Event {
	switch ev.Type {
	case EVSyn:
		return d.sync(ev)
	case EVAbs:
		if d.dropping {
			return nil
		}
		switch ev.Code {
		case ABSMTSlot:
			d.slot = int(ev.Value)
		case ABSMTTrackingID:
			s := d.current()
			if ev.Value < 0 {
				if s.active {
					s.phase = TouchUp
					s.active = false
					s.dirty = true
				}
				return nil
			}
			s.trackingID = ev.Value
			s.active = true
			s.phase = TouchDown
			s.dirty = true
		case ABSMTPositionX:
			d.move(func(s *slotState) { s.x = ev.Value })
		case ABSMTPositionY:
			d.move(func(s *slotState) { s.y = ev.Value })
		case ABSMTPressure:
			d.move(func(s *slotState) { s.pressure = ev.Value })
		}
	}
	return nil
}

func (d *touchDecoder) move(set func(*slotState)) {
	s := d.current()
	set(s)
	if !s.dirty {
		s.phase = TouchMove
		s.dirty = true
	}
}

func (d *touchDecoder) sync(ev RawEvent) []Event {
	switch ev.Code {
	case SynDropped:
		d.dropping = true
		for _, s := range d.slots {
			s.dirty = false
		}
		return nil
	case SynReport:
		if d.dropping {
			d.dropping = false
			return nil
		}
	default:
		return nil
	}
	var out []Event
	for _, slot := range d.order {
		s := d.slots[slot]
		if !s.dirty {
			continue
		}
		s.dirty = false
		if !s.active && s.phase != TouchUp {
			continue
		}
		out = append(out, TouchEvent{
			Slot:       slot,
			TrackingID: s.trackingID,
			Phase:      s.phase,
			X:          s.x,
			Y:          s.y,
			Pressure:   s.pressure,
			At:         ev.Time(),
		})
	}
	return out
}

// penDecoder accumulates one stylus sample per SYN_REPORT.
type penDecoder struct {
	sample   PenEvent
	dirty    bool
	dropping bool
}

func (d *penDecoder) decode(ev RawEvent) []Event {
	switch ev.Type {
	case EVSyn:
		switch ev.Code {
		case SynDropped:
			d.dropping = true
			d.dirty = false
		case SynReport:
			if d.dropping {
				d.dropping = false
				return nil
			}
			if !d.dirty {
				return nil
			}
			d.dirty = false
			sample := d.sample
			sample.At = ev.Time()
			return []Event{sample}
		}
		return nil
	case EVKey:
		if d.dropping {
			return nil
		}
		down := ev.Value != 0
		switch ev.Code {
		case BTNToolPen:
			d.sample.Tool = toolFor(down, ToolPen)
		case BTNToolRubber:
			d.sample.Tool = toolFor(down, ToolRubber)
		case BTNTouch:
			d.sample.Touching = down
		case BTNStylus, BTNStylus2:
			d.sample.Button = down
		default:
			return nil
		}
		d.dirty = true
	case EVAbs:
		if d.dropping {
			return nil
		}
		switch ev.Code {
		case ABSX:
			d.sample.X = ev.Value
		case ABSY:
			d.sample.Y = ev.Value
		case ABSPressure:
			d.sample.Pressure = ev.Value
		case ABSDistance:
			d.sample.Distance = ev.Value
		case ABSTiltX:
			d.sample.TiltX = ev.Value
		case ABSTiltY:
			d.sample.TiltY = ev.Value
		default:
			return nil
		}
		d.dirty = true
	}
	return nil
}

func toolFor(down bool, tool PenTool) PenTool {
	if down {
		return tool
	}
	return ToolNone
}
