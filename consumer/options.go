package consumer

import "github.com/rs/zerolog"

type options struct {
	interceptors         []UnaryInterceptorFunc
	exitOnSubscribeError bool
	logger               *zerolog.Logger
}

type Option func(opt *options)

// WithInterceptors installs interceptors; the first one listed runs outermost.
func WithInterceptors(interceptors ...UnaryInterceptorFunc) Option {
	return func(opt *options) {
		opt.interceptors = nil

		for i := len(interceptors) - 1; i >= 0; i-- {
			if interceptor := interceptors[i]; interceptor != nil {
				opt.interceptors = append(opt.interceptors, interceptor)
			}
		}
	}
}

// WithExitOnSubscribeError makes ConsumeAsync fail when the first subscribe attempt fails
// instead of retrying in the background.
func WithExitOnSubscribeError(exit bool) Option {
	return func(opt *options) {
		opt.exitOnSubscribeError = exit
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(opt *options) {
		opt.logger = &logger
	}
}
