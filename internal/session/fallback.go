package session

import (
	"fmt"
	"io"
)

// ConsoleFallback prints the logout notice and the way back to sign-in.
type ConsoleFallback struct{ Out io.Writer }

func (c ConsoleFallback) Alert(message string) { fmt.Fprintln(c.Out, message) }

func (c ConsoleFallback) Navigate(path string) { fmt.Fprintf(c.Out, "sign in again: %s\n", path) }
