package worker

// Worker is a running worker thread with a message port.
type Worker interface {
	// PostMessage sends one JSON-encoded message to the worker.
	PostMessage(data []byte) error

	// OnMessage sets the callback for messages from the worker. data is the
	// JSON encoding of the message.
	OnMessage(fn func(data []byte))

	// OnError sets the callback for worker errors. Returning true suppresses
	// the platform's default error propagation.
	OnError(fn func() bool)

	// Terminate stops the worker.
	Terminate()
}

// Platform creates workers and script URLs.
type Platform interface {
	// NewWorker starts a worker running the script at url.
	NewWorker(url string) (Worker, error)

	// NewScriptURL returns a same-origin URL whose content is source.
	NewScriptURL(source, mimeType string) (string, error)
}
