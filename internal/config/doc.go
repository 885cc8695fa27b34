// Package config loads and validates the TOML configuration for the
// dispatch daemon and CLI. Values not present in the file fall back to
// repository defaults; all paths are expanded and absolute after Load.
package config
