// Package config defines configuration for the stardriver CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (STARDRIVER_ prefix)
//   - YAML configuration file
//
// Precedence is flags over environment over file over defaults. The
// package also owns the fixed install-tree layout constants
// (PHANTASYSTARONLINE2_JP/pso2_bin).
package config
