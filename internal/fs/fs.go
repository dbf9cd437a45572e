// Package fs reports filesystem capacity, backing the disk-space guard that
// stops media downloads before the data dir fills up.
package fs

import "errors"

// ErrUnsupportedOS is returned when the platform has no capacity probe.
var ErrUnsupportedOS = errors.New("unsupported operating system for disk space check")
