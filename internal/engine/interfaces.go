package engine

import (
	"fmt"

	"github.com/nokeedev/objtx/internal/state"
	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/resolver"
)

// Dependencies are the collaborators of an Engine. Notifier may be nil.
type Dependencies struct {
	Compiler   interfaces.Compiler
	Resolver   resolver.Resolver
	FileSystem interfaces.FileSystem
	State      *state.Manager
	Notifier   interfaces.BuildNotifier
}

func (d Dependencies) validate() error {
	switch {
	case d.Compiler == nil:
		return fmt.Errorf("compiler dependency is required")
	case d.Resolver == nil:
		return fmt.Errorf("resolver dependency is required")
	case d.FileSystem == nil:
		return fmt.Errorf("file system dependency is required")
	case d.State == nil:
		return fmt.Errorf("state manager dependency is required")
	}
	return nil
}
