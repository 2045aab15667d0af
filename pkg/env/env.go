// Package env keeps names of environment variables with special significance to
// xyfit.
package env

// Environment variables with special significance to xyfit.
const (
	HOME            = "HOME"
	NO_COLOR        = "NO_COLOR"
	XDG_CONFIG_HOME = "XDG_CONFIG_HOME"
)
