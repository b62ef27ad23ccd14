// Package report renders the end-of-run summary.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/envmatrix/envmatrix/internal/models"
	"github.com/envmatrix/envmatrix/internal/runner"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
)

// Print writes the per-environment summary and the closing verdict.
func Print(w io.Writer, rep *runner.Report) {
	fmt.Fprintln(w, "_______________________________ summary _______________________________")

	for _, res := range rep.Results {
		switch res.Status {
		case models.RunStatusSucceeded:
			okColor.Fprintf(w, "  %s: commands succeeded (%s)\n", res.Name, res.Duration.Round(time.Millisecond))
		case models.RunStatusSkipped:
			warnColor.Fprintf(w, "  %s: skipped\n", res.Name)
		default:
			failColor.Fprintf(w, "  %s: %s", res.Name, res.Status)
			if res.Reason != "" {
				failColor.Fprintf(w, " - %s", res.Reason)
			}
			fmt.Fprintln(w)
		}
	}

	if rep.Failed() {
		failColor.Fprintln(w, "  evaluation failed :(")
	} else {
		okColor.Fprintln(w, "  congratulations :)")
	}
}
