package diag

import (
	"fmt"
	"io"
)

// Shower wraps the Show function.
type Shower interface {
	// Show takes an indentation string and shows.
	Show(indent string) string
}

// ShowError writes an error to w. If color is true and the error implements
// [Shower], the Show method is used; otherwise the plain Error method.
// Errors joined with [errors.Join] are shown one after another.
func ShowError(w io.Writer, err error, color bool) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			ShowError(w, e, color)
		}
		return
	}
	if shower, ok := err.(Shower); ok && color {
		fmt.Fprintln(w, shower.Show(""))
	} else if color {
		fmt.Fprintf(w, "%s%s%s\n", messageStart, err.Error(), messageEnd)
	} else {
		fmt.Fprintln(w, err.Error())
	}
}
