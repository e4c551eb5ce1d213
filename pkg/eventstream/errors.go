package eventstream

import "errors"

// ErrNilEvent indicates a nil document event was provided to a publisher.
var ErrNilEvent = errors.New("nil document event")
