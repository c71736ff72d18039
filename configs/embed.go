// Package configs provides the embedded configuration template for docrank.
//
// The template is embedded at build time, so `docrank config init` can
// write it without any external files regardless of how the binary was
// installed.
//
// Precedence of the loaded configuration (see internal/config.Load):
//  1. Built-in defaults
//  2. docrank.yaml in the config directory
//  3. .env in the config directory
//  4. Environment variables (CHROMADB_URL, REDIS_URL, DATABASE_URL, ...)
package configs

import _ "embed"

// ConfigTemplate is the annotated docrank.yaml template written by
// `docrank config init`. Every active value matches the built-in
// defaults, so a freshly initialized file changes nothing until edited.
//
//go:embed docrank.example.yaml
var ConfigTemplate string
