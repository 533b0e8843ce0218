package version

// Version is the scraper release, overridden at build time via -ldflags.
var Version = "0.3.0"
