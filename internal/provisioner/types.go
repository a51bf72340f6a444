package provisioner

import "context"

// PackageManager defines the host package operations a recipe can request.
// Implementations invoke the system tools as opaque commands.
type PackageManager interface {
	// AddSource records one repository line in a sources file.
	AddSource(path, line string) error
	// TrustKey imports a signing key from a key server.
	TrustKey(ctx context.Context, keyserver, keyID string) error
	// RefreshIndex re-synchronizes package metadata.
	RefreshIndex(ctx context.Context) error
	// Install installs the named packages.
	Install(ctx context.Context, packages []string) error
	// ReconfigureRuntime re-detects the Java configuration of the R runtime.
	ReconfigureRuntime(ctx context.Context) error
	// InstallLocal installs a local .deb file, resolving its dependencies.
	InstallLocal(ctx context.Context, path string) error
}
