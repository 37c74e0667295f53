// Package presenter abstracts the out-of-band surface (popup window, QR code,
// terminal) that shows a companion URL to the user.
package presenter

import (
	"context"

	"go.uber.org/zap"
)

// Handle is an opened presentation. A nil Handle means the surface could not
// be opened (for example a blocked popup).
type Handle interface {
	Close() error
}

type Presenter interface {
	Present(ctx context.Context, url string) (Handle, error)
}

// Func adapts a plain function to Presenter.
type Func func(ctx context.Context, url string) (Handle, error)

func (f Func) Present(ctx context.Context, url string) (Handle, error) { return f(ctx, url) }

type nopHandle struct{}

func (nopHandle) Close() error { return nil }

// Opened is a Handle with nothing to release.
var Opened Handle = nopHandle{}

// Blocked never manages to open a surface.
var Blocked Presenter = Func(func(context.Context, string) (Handle, error) { return nil, nil })

// Log writes the companion URL to the logger, for terminals and headless use.
type Log struct {
	L *zap.Logger
}

func (p Log) Present(_ context.Context, url string) (Handle, error) {
	l := p.L
	if l == nil {
		l = zap.NewNop()
	}
	l.Info("open this link on the companion device", zap.String("url", url))
	return Opened, nil
}
