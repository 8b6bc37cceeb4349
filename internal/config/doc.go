// Package config provides configuration loading and validation for the
// speech emotion recognition service. It handles YAML-based configuration
// with struct validation for every subsystem.
package config
