//go:build !linux

// Package loop manages Linux loop devices; unsupported elsewhere.
package loop

import "github.com/containerd/errdefs"

// Attach selects a free loop device and binds it to imagePath at offset.
func Attach(imagePath string, offset, sizeLimit uint64) (*Attachment, error) {
	return nil, errdefs.ErrNotImplemented
}

// Info retrieves the current status of the loop device.
func (a *Attachment) Info() (*Info64, error) {
	return nil, errdefs.ErrNotImplemented
}

// Detach releases the binding.
func (a *Attachment) Detach() error {
	return nil
}
