package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/subtrack/subtrack/internal/assets/appidentity"
)

func init() {
	// Best-effort registration.
	//
	// Explicit identity overrides remain authoritative (Options.ExplicitPath and
	// FULMEN_APP_IDENTITY_PATH). Embedded identity provides standalone-binary
	// behavior when no external `.fulmen/app.yaml` can be found.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// Default is the identity used when no app.yaml can be resolved.
func Default() *appidentity.Identity {
	return &appidentity.Identity{
		Vendor:      "subtrack",
		BinaryName:  "subtrack",
		ConfigName:  "subtrack",
		EnvPrefix:   "SUBTRACK_",
		Description: "Subscription tracking API with a shared, fail-open rate limiter",
	}
}

// Resolve returns the discovered identity, or Default when discovery fails
// or yields an identity without the fields the CLI depends on.
func Resolve(ctx context.Context) *appidentity.Identity {
	if ctx == nil {
		ctx = context.Background()
	}
	identity, err := Get(ctx)
	if err != nil || identity == nil {
		return Default()
	}

	fallback := Default()
	if identity.BinaryName == "" {
		identity.BinaryName = fallback.BinaryName
	}
	if identity.ConfigName == "" {
		identity.ConfigName = identity.BinaryName
	}
	if identity.EnvPrefix == "" {
		identity.EnvPrefix = fallback.EnvPrefix
	}
	return identity
}
