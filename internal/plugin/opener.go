package plugin

import (
	"fmt"
	goplugin "plugin"
)

// Handle is an opened code unit whose exported symbols can be looked up by
// name.
type Handle interface {
	Lookup(symbol string) (any, error)
}

// Opener opens a code unit from disk.
type Opener interface {
	Open(path string) (Handle, error)
}

// NativeOpener opens shared objects built with -buildmode=plugin.
type NativeOpener struct{}

func (NativeOpener) Open(path string) (Handle, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}
	return nativeHandle{p: p}, nil
}

type nativeHandle struct {
	p *goplugin.Plugin
}

func (h nativeHandle) Lookup(symbol string) (any, error) {
	sym, err := h.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
