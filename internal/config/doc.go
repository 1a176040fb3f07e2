// Package config handles YAML configuration loading with environment
// variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation, which keeps the Upstox access token out of the file
// itself.
package config
