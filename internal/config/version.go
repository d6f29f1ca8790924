package config

// Version is the clawbridge binary version.
// Set at build time via: -ldflags "-X github.com/clawbridge/clawbridge/internal/config.Version=<tag>"
var Version = "dev"
