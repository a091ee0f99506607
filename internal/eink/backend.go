package eink

// Backend is a display that accepts refresh requests for a mapped buffer.
// Framebuffer (gen1) and the swtfb client (gen2) implement it.
type Backend interface {
	FixScreenInfo() FixScreeninfo
	VarScreenInfo() VarScreeninfo
	PutVarScreenInfo(VarScreeninfo) error
	Frame() []byte
	SendUpdate(Update) (uint32, error)
	WaitForUpdateComplete(marker uint32) (bool, error)
	Close() error
}

var _ Backend = (*Framebuffer)(nil)
