// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Credential key material is never placed in YAML; the credentials section only
// names the environment prefix the pool reads numbered keys from.
package config
