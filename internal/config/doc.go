// Package config manages the user configuration file.
//
// The configuration is a YAML file holding client-side device metadata
// (nicknames, last known addresses, classified variants) and scan and
// command defaults that the CLI applies when flags do not override
// them. The file lives in the platform-appropriate location:
//   - Linux: $XDG_CONFIG_HOME/kasalink/config.yaml or $HOME/.config/kasalink/config.yaml
//   - macOS: $HOME/.config/kasalink/config.yaml
//   - Windows: %LOCALAPPDATA%\kasalink\config.yaml
//
// The global registry loads lazily through sync.Once and saves are
// atomic (write temp file, rename). A missing file is not an error; it
// yields the built-in defaults.
package config
