package chathub

// Client is the interface for any type of realtime connection. The hub owns
// subscription state; clients only expose identity and a send channel.
type Client interface {
	// GetUserID returns the internal user the connection belongs to.
	GetUserID() string

	// GetSendChannel returns the channel the hub writes events to. The hub
	// closes it when the client is dropped.
	GetSendChannel() chan<- Event

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the underlying connection.
	Close()
}

// subscription asks the hub to add topic to client's topics.
type subscription struct {
	client Client
	topic  string
}
