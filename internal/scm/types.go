package scm

import "context"

// Source identifies a branch of a remote repository and the subdirectory of
// interest within it.
type Source struct {
	URL    string
	Branch string
	Subdir string
	// Token authenticates HTTPS clones when set.
	Token string
}

// Cloner fetches a shallow, single-branch copy of a repository.
// This interface is provider-agnostic.
type Cloner interface {
	Clone(ctx context.Context, src Source, dir string) error
}

// Resolver turns a hosted project reference into a clonable Source.
type Resolver interface {
	Resolve(ctx context.Context, project, branch string) (Source, error)
}
