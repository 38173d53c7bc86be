package callbridge

import "go.uber.org/zap"

// BridgeOption is an option for configuring the behavior of a Bridge.
type BridgeOption interface {
	apply(*Bridge)
}

type bridgeOptFunc func(*Bridge)

func (f bridgeOptFunc) apply(b *Bridge) {
	f(b)
}

// Logger returns an option that sets a logger for internal diagnostics.
//
// The default is to not write any logs.
func Logger(logger *zap.Logger) BridgeOption {
	return bridgeOptFunc(func(b *Bridge) {
		b.logger = logger
	})
}
