//go:build !linux

package link

import (
	"context"
	"errors"
	"runtime"
)

// DefaultRFCOMMChannel matches the channel the peer binds by convention.
const DefaultRFCOMMChannel = 4

var errRFCOMMUnsupported = errors.New("rfcomm links require linux (GOOS=" + runtime.GOOS + ")")

// RFCOMMDialer is a stub on platforms without AF_BLUETOOTH socket support.
type RFCOMMDialer struct {
	Addr    string
	Channel uint8
}

func (d *RFCOMMDialer) Dial(context.Context) (Link, error) { return nil, errRFCOMMUnsupported }

// RFCOMMListener is a stub on platforms without AF_BLUETOOTH socket support.
type RFCOMMListener struct{}

func ListenRFCOMM(uint8) (*RFCOMMListener, error) { return nil, errRFCOMMUnsupported }

func (l *RFCOMMListener) Accept(context.Context) (Link, error) { return nil, errRFCOMMUnsupported }
func (l *RFCOMMListener) Addr() string                         { return "rfcomm" }
func (l *RFCOMMListener) Close() error                         { return nil }
