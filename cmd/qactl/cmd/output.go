package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	keyFmt  = color.New(color.FgCyan, color.Bold).SprintFunc()
	okFmt   = color.New(color.FgGreen).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

func field(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%s %v\n", keyFmt(key+":"), value)
}

func statusText(ok bool, status int) string {
	if ok {
		return okFmt(status)
	}
	return errFmt(status)
}

// printJSON indents raw when it is JSON and prints it verbatim otherwise.
func printJSON(w io.Writer, raw []byte) {
	if len(raw) == 0 {
		fmt.Fprintln(w, dimFmt("(empty body)"))
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(w, string(raw))
		return
	}
	fmt.Fprintln(w, buf.String())
}
