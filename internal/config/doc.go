// Package config loads CLI configuration and backend runtime parameters.
//
// Configuration comes from an optional YAML file, CPOOL_* environment
// variables and built-in defaults, in that order of precedence (environment
// wins). Runtime parameters are written in CUE and checked against an
// embedded schema before they are placed in an init bundle.
package config
