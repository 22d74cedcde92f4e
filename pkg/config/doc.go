// Package config loads the agent's structured YAML configuration,
// substituting ${NAME} environment placeholders and validating the
// resource thresholds, intervals, ports, and paths spec.md §4.2 requires.
package config
