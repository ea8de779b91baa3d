// Package resolver maps source files to the object files a native compiler
// produces for them.
//
// Each compiler family has its own naming convention. The resolver for a
// family must reproduce that convention exactly: the transaction stages and
// restores exactly the paths returned here.
package resolver

import (
	"crypto/md5"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/nokeedev/objtx/pkg/types"
)

// ErrResolutionUnsupported is returned when no naming convention is known
// for a compiler family
var ErrResolutionUnsupported = errors.New("object file resolution unsupported")

// Scope tells which filesystem entry holds everything a single source owns
type Scope int

const (
	// ScopeDirectory means the artifact's containing directory belongs to one source
	ScopeDirectory Scope = iota
	// ScopeFile means the containing directory is shared and only the file belongs to the source
	ScopeFile
)

// Resolver maps a source identity to its artifact path under a root
type Resolver interface {
	// Resolve returns the artifact path for source under rootDir
	Resolve(source, rootDir string) (string, error)
	// Scope reports the unit owned by one source
	Scope() Scope
}

// ForFamily returns the resolver for a compiler family. Source identities
// are taken relative to baseDir, the project directory.
func ForFamily(family types.CompilerFamily, baseDir string) (Resolver, error) {
	switch family {
	case types.FamilyGCC, types.FamilyClang:
		return NewHashedResolver(baseDir, ".o"), nil
	case types.FamilyVisualCpp:
		return NewHashedResolver(baseDir, ".obj"), nil
	case types.FamilyMirror:
		return NewMirrorResolver(baseDir, ".o"), nil
	default:
		return nil, fmt.Errorf("%w: compiler family %q", ErrResolutionUnsupported, family)
	}
}

// UnitOf returns the path staged for an artifact: its containing directory
// for directory-scoped resolvers, the artifact itself otherwise
func UnitOf(r Resolver, artifactPath string) string {
	if r.Scope() == ScopeDirectory {
		return filepath.Dir(artifactPath)
	}
	return artifactPath
}

// Refs resolves every source under rootDir
func Refs(r Resolver, sources []string, rootDir string) ([]types.ArtifactRef, error) {
	refs := make([]types.ArtifactRef, 0, len(sources))
	for _, source := range sources {
		path, err := r.Resolve(source, rootDir)
		if err != nil {
			return nil, err
		}
		refs = append(refs, types.ArtifactRef{Source: source, Path: path})
	}
	return refs, nil
}

// HashedResolver places each object in a directory named after the compact
// MD5 of the source path relative to the project:
//
//	<root>/<compactMD5(relative source)>/<basename><suffix>
type HashedResolver struct {
	baseDir string
	suffix  string
}

// NewHashedResolver creates a hashed resolver producing suffix objects
func NewHashedResolver(baseDir, suffix string) *HashedResolver {
	return &HashedResolver{baseDir: baseDir, suffix: suffix}
}

// Resolve implements Resolver
func (r *HashedResolver) Resolve(source, rootDir string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: empty source path", ErrResolutionUnsupported)
	}
	hashDir := CompactMD5(relativeIdentity(r.baseDir, source))
	return filepath.Join(rootDir, hashDir, baseName(source)+r.suffix), nil
}

// Scope implements Resolver
func (r *HashedResolver) Scope() Scope {
	return ScopeDirectory
}

// MirrorResolver mirrors the source tree under the root:
//
//	<root>/<relative source dir>/<basename><suffix>
//
// Sources outside the project directory cannot be mirrored.
type MirrorResolver struct {
	baseDir string
	suffix  string
}

// NewMirrorResolver creates a mirroring resolver producing suffix objects
func NewMirrorResolver(baseDir, suffix string) *MirrorResolver {
	return &MirrorResolver{baseDir: baseDir, suffix: suffix}
}

// Resolve implements Resolver
func (r *MirrorResolver) Resolve(source, rootDir string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: empty source path", ErrResolutionUnsupported)
	}
	rel := relativeIdentity(r.baseDir, source)
	if filepath.IsAbs(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrResolutionUnsupported, source, r.baseDir)
	}
	dir := filepath.Dir(filepath.FromSlash(rel))
	return filepath.Join(rootDir, dir, baseName(source)+r.suffix), nil
}

// Scope implements Resolver
func (r *MirrorResolver) Scope() Scope {
	return ScopeFile
}

// CompactMD5 renders the MD5 of s in base 36
func CompactMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return new(big.Int).SetBytes(sum[:]).Text(36)
}

// relativeIdentity returns the slash-separated path of source relative to
// baseDir, or its absolute path when it lies outside baseDir
func relativeIdentity(baseDir, source string) string {
	abs := source
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(baseDir, source)
	}
	abs = filepath.Clean(abs)

	if baseDir != "" {
		if rel, err := filepath.Rel(filepath.Clean(baseDir), abs); err == nil &&
			rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(abs)
}

func baseName(source string) string {
	name := filepath.Base(source)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
