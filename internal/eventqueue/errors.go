package eventqueue

import "errors"

// ErrClosed is returned by Push/Pop once Close has been called.
var ErrClosed = errors.New("eventqueue: closed")
