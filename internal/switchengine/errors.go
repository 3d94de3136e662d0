// SPDX-License-Identifier: MIT

package switchengine

import "errors"

// ErrInvalidRequest is returned when a switch target is out of range. State
// is left unchanged.
var ErrInvalidRequest = errors.New("switchengine: invalid request")

// ErrTemporarilyUnavailable is returned by the Dispatcher when the active
// source is momentarily drained but auto-failover has not yet committed.
// The caller is expected to retry.
var ErrTemporarilyUnavailable = errors.New("switchengine: temporarily unavailable, try again")

// ErrEndOfStream is returned by the Dispatcher once the Ring it has to
// read from is closed and drained and no failover remains to move it to
// another source.
var ErrEndOfStream = errors.New("switchengine: end of stream")

// ErrConfig is returned by New when the source count is below 2.
// config.Validate reports its own range errors without wrapping it.
var ErrConfig = errors.New("switchengine: invalid configuration")

// ErrBind is returned when the control surface cannot bind its listening
// port.
var ErrBind = errors.New("switchengine: control surface bind failure")
