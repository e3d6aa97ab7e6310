package ensure

// Build information, set at build time with -ldflags:
//
//	-X github.com/rcourtman/claimguard/pkg/ensure.version=1.2.3
//	-X github.com/rcourtman/claimguard/pkg/ensure.buildDate=2026-01-02
var (
	version   = "dev"
	buildDate = "unknown"
)

// DefaultUserAgent is sent to sources that talk to a remote party.
var DefaultUserAgent = "libclaimguard/" + version

// Version returns the runtime version string of this module.
func Version() string { return version }

// BuildDate returns the build date string of this module.
func BuildDate() string { return buildDate }

// UserAgent prefixes the default user agent with the product's own.
func UserAgent(product string) string {
	if product == "" {
		return DefaultUserAgent
	}
	return product + " " + DefaultUserAgent
}
