package engine

import (
	"github.com/nokeedev/objtx/internal/state"
	"github.com/nokeedev/objtx/pkg/compiler"
	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/notifier"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
	"github.com/nokeedev/objtx/pkg/utils"
)

// DependencyFactory creates the default collaborators for a configuration
type DependencyFactory struct {
	config *types.ProjectConfig
	logger logger.Logger
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(cfg *types.ProjectConfig, log logger.Logger) *DependencyFactory {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DependencyFactory{config: cfg, logger: log}
}

// CreateDefaults creates the toolchain compiler, split by per-source
// options, and everything a transaction needs around it
func (f *DependencyFactory) CreateDefaults() (Dependencies, error) {
	r, err := resolver.ForFamily(f.config.Compiler.Family, f.config.ProjectRoot)
	if err != nil {
		return Dependencies{}, err
	}

	c, err := f.createCompiler(r)
	if err != nil {
		return Dependencies{}, err
	}

	return Dependencies{
		Compiler:   c,
		Resolver:   r,
		FileSystem: utils.NewFileSystemUtils(),
		State:      state.NewManager(f.config.ProjectRoot, f.logger),
		Notifier:   f.createNotifier(),
	}, nil
}

// CreateWithOverrides creates the defaults and replaces every non-nil override
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) (Dependencies, error) {
	deps, err := f.CreateDefaults()
	if err != nil {
		return Dependencies{}, err
	}

	if overrides.Compiler != nil {
		deps.Compiler = overrides.Compiler
	}
	if overrides.Resolver != nil {
		deps.Resolver = overrides.Resolver
	}
	if overrides.FileSystem != nil {
		deps.FileSystem = overrides.FileSystem
	}
	if overrides.State != nil {
		deps.State = overrides.State
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	return deps, nil
}

func (f *DependencyFactory) createCompiler(r resolver.Resolver) (interfaces.Compiler, error) {
	command, err := compiler.NewCommandCompiler(f.config.Compiler, r, f.config.ProjectRoot, f.logger)
	if err != nil {
		return nil, err
	}
	if len(f.config.PerSource) == 0 {
		return command, nil
	}
	return compiler.NewBucketCompiler(command, f.config.ProjectRoot, f.config.PerSource, f.logger)
}

func (f *DependencyFactory) createNotifier() interfaces.BuildNotifier {
	cfg := notifier.Config{
		Enabled: config.NotificationsEnabled(f.config),
		Sound:   true,
	}
	if f.config.Notifications != nil {
		cfg.NotifyOnCommit = f.config.Notifications.NotifyOnCommit
	}
	return notifier.New(cfg, f.logger)
}
