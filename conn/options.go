// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package conn

// Options configures per-connection behavior that is genuinely optional
// and rarely overridden — unlike server.Config, which is populated by the
// caller as a whole, so a functional-options constructor fits here and a
// plain struct literal fits there.
type Options struct {
	// ReadLimit caps the largest message length a connection accepts,
	// independent of MessageMaxSize (the fixed wire/frame ceiling). A
	// peer that declares a larger length gets the connection closed
	// rather than the library silently truncating or panicking.
	ReadLimit int
}

var defaultOptions = Options{
	ReadLimit: MaxPayloadSize,
}

// Option adjusts one field of Options.
type Option func(*Options)

// WithReadLimit overrides the default ReadLimit.
func WithReadLimit(limit int) Option {
	return func(o *Options) { o.ReadLimit = limit }
}

func resolveOptions(opts []Option) Options {
	o := defaultOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}
