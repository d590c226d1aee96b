// Package schemas holds the JSON Schema documents shipped with the binary.
package schemas

import _ "embed"

// Config is the JSON Schema of the configuration file.
//
//go:embed config.schema.json
var Config string

// ConfigExample is a complete configuration file with the stock values.
//
//go:embed config.example.json
var ConfigExample string
