package interfaces

import "errors"

// ErrNoMessage is returned by JobQueue.Receive when the queue is empty.
var ErrNoMessage = errors.New("no messages in queue")
