package identity

const (
	BrandName = "Projector"
	// AppSlug is the canonical identifier for user-facing and on-disk state.
	// It names the state directory and the env variable prefix.
	AppSlug = "projector"
	CLIName = "prj"

	GlobalConfigFile = "config.yml"

	// EnvPrefix prefixes every environment variable the app reads.
	EnvPrefix = "PROJECTOR_"
)
