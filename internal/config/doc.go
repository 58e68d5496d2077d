// Package config loads and validates the mesh coordinator configuration
// from YAML files, with ${VAR} environment expansion and duration parsing.
package config
