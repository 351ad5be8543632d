package supervisor

import (
	"context"

	"github.com/carlosprados/keeper/internal/locator"
	"github.com/carlosprados/keeper/internal/runner"
)

// LocatorResolver resolves runtimes with the quick probes first and the
// exhaustive scan second.
type LocatorResolver struct {
	Locator *locator.Locator
}

func (r LocatorResolver) Resolve(ctx context.Context) (runner.Runtime, error) {
	if c, ok := r.Locator.FindFast(ctx); ok {
		return runner.Runtime{Home: c.Home, Exe: c.Exe}, nil
	}
	if c, ok := r.Locator.FindFull(ctx); ok {
		return runner.Runtime{Home: c.Home, Exe: c.Exe}, nil
	}
	return runner.Runtime{}, runner.ErrRuntimeNotFound
}

func (r LocatorResolver) Suggest() string {
	if homes := r.Locator.LikelyHomesForPrompt(); len(homes) > 0 {
		return homes[0]
	}
	return ""
}
