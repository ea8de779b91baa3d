package compiler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/logger"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
	"github.com/nokeedev/objtx/pkg/utils"
)

type bucket struct {
	options types.SourceOptions
	matcher *utils.PatternMatcher
	key     string
}

// BucketCompiler splits a request by per-source options. Sources matching
// no options form the default bucket, compiled first together with the
// removed sources; every other bucket is compiled with its own arguments
// and a temporary directory of its own.
type BucketCompiler struct {
	delegate interfaces.Compiler
	baseDir  string
	buckets  []bucket
	logger   logger.Logger
}

// NewBucketCompiler creates a bucketing compiler. Patterns are matched
// against source paths relative to baseDir; the first matching options win.
func NewBucketCompiler(delegate interfaces.Compiler, baseDir string, options []types.SourceOptions, log logger.Logger) (*BucketCompiler, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	c := &BucketCompiler{delegate: delegate, baseDir: baseDir, logger: log}
	for i, opts := range options {
		matcher, err := utils.NewPatternMatcher(opts.Patterns)
		if err != nil {
			return nil, fmt.Errorf("invalid per-source patterns at index %d: %w", i, err)
		}
		c.buckets = append(c.buckets, bucket{options: opts, matcher: matcher, key: bucketKey(opts)})
	}
	return c, nil
}

// bucketKey identifies a bucket by its options so its temporary directory
// is stable across runs
func bucketKey(opts types.SourceOptions) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(opts.Patterns, "\x00"))
	sb.WriteString("\x01")
	sb.WriteString(strings.Join(opts.Args, "\x00"))
	sb.WriteString("\x01")
	names := make([]string, 0, len(opts.Macros))
	for name := range opts.Macros {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(name + "=" + opts.Macros[name] + "\x00")
	}
	return resolver.CompactMD5(sb.String())
}

// BucketOf returns the index of the options applying to source, -1 for the default bucket
func (c *BucketCompiler) BucketOf(source string) int {
	rel := source
	if filepath.IsAbs(source) && c.baseDir != "" {
		if r, err := filepath.Rel(c.baseDir, source); err == nil {
			rel = r
		}
	}
	for i, b := range c.buckets {
		if b.matcher.Match(rel) {
			return i
		}
	}
	return -1
}

// Execute implements interfaces.Compiler. The first failing bucket stops
// the compilation; the caller's listener sees Done once, at the end.
func (c *BucketCompiler) Execute(ctx context.Context, req *types.CompileRequest, listener interfaces.OperationListener) (types.WorkResult, error) {
	defer listener.Done()
	inner := &bucketListener{delegate: listener}

	defaultReq := req.Clone()
	defaultReq.Sources = nil
	perBucket := make([][]string, len(c.buckets))
	for _, source := range req.Sources {
		if i := c.BucketOf(source); i >= 0 {
			perBucket[i] = append(perBucket[i], source)
		} else {
			defaultReq.Sources = append(defaultReq.Sources, source)
		}
	}

	result := types.DidWork(false)
	if len(defaultReq.Sources) > 0 || len(defaultReq.RemovedSources) > 0 || !req.Incremental || len(req.Sources) == 0 {
		r, err := c.delegate.Execute(ctx, defaultReq, inner)
		result = result.Or(r)
		if err != nil {
			return result, err
		}
	}

	for i, sources := range perBucket {
		if len(sources) == 0 {
			continue
		}
		b := c.buckets[i]
		bucketReq := c.bucketRequest(req, b, sources)

		c.logger.Debug("Compiling per-source bucket",
			logger.WithField("bucket", b.key),
			logger.WithField("sources", len(sources)))

		r, err := c.delegate.Execute(ctx, bucketReq, inner)
		result = result.Or(r)
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

func (c *BucketCompiler) bucketRequest(req *types.CompileRequest, b bucket, sources []string) *types.CompileRequest {
	bucketReq := req.Clone()
	bucketReq.Sources = sources
	bucketReq.RemovedSources = nil
	bucketReq.TempDir = filepath.Join(req.TempDir, b.key)
	// The default bucket already cleaned the object directory
	bucketReq.Incremental = true
	bucketReq.Args = append(bucketReq.Args, b.options.Args...)
	if len(b.options.Macros) > 0 {
		if bucketReq.Macros == nil {
			bucketReq.Macros = make(map[string]string, len(b.options.Macros))
		}
		for name, value := range b.options.Macros {
			bucketReq.Macros[name] = value
		}
	}
	return bucketReq
}

// bucketListener hides the per-bucket Done calls from the caller's listener
type bucketListener struct {
	delegate interfaces.OperationListener
}

func (l *bucketListener) OperationSuccess(description string, output string) {
	l.delegate.OperationSuccess(description, output)
}

func (l *bucketListener) OperationFailed(description string, output string) {
	l.delegate.OperationFailed(description, output)
}

func (l *bucketListener) Done() {}
