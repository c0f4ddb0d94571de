package channel

import (
	"context"
)

// Adapter bridges one external chat transport (for example IRC) to the butler bus.
type Adapter interface {
	Name() string
	Run(context.Context) error
	// Connected reports whether the transport session is currently usable.
	Connected() bool
}
