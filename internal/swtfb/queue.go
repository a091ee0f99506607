package swtfb

// Queue transports encoded messages to the server.
type Queue interface {
	// Send transmits one MessageSize frame. It blocks while the queue is full.
	Send(frame []byte) error
	// Remove destroys the queue.
	Remove() error
}
