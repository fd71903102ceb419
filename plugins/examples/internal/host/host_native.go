//go:build !(tinygo || wasm)

package host

import "log"

// Log prints to stderr when a plugin is built for the host platform.
func Log(msg string) {
	if msg != "" {
		log.Print(msg)
	}
}
