// Package iocli is the terminal I/O used by the administrative commands.
package iocli

// IO is what commands need from the terminal
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
}
