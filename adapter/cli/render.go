package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/bulkreg/internal/registration/application"
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
)

// Output styles.
var (
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	MutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	HeaderStyle  = lipgloss.NewStyle().Bold(true)
)

// FormatOutcome renders one outcome as "<url> Success! (Code: n)" or
// "<url> Error: n - body".
func FormatOutcome(o domain.RequestOutcome) string {
	if o.Failed() {
		return o.Target.URL + " " + ErrorStyle.Render(fmt.Sprintf("Error: %d - %s", o.StatusCode, o.ResponseBody))
	}
	return o.Target.URL + " " + SuccessStyle.Render(fmt.Sprintf("Success! (Code: %d)", o.StatusCode))
}

// Printer renders dispatcher events as they arrive. Each outcome is printed
// together with the progress count that follows it.
type Printer struct {
	out     io.Writer
	pending *domain.RequestOutcome
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Handle is an application.EventSink.
func (p *Printer) Handle(ev application.Event) {
	switch e := ev.(type) {
	case application.OutcomeEvent:
		outcome := e.Outcome
		p.pending = &outcome
	case application.ProgressEvent:
		prefix := MutedStyle.Render(fmt.Sprintf("[%d/%d]", e.Count, e.Total))
		if p.pending != nil {
			fmt.Fprintf(p.out, "%s %s\n", prefix, FormatOutcome(*p.pending))
			p.pending = nil
			return
		}
		fmt.Fprintln(p.out, prefix)
	case application.CompletedEvent:
		if e.Cancelled {
			fmt.Fprintf(p.out, "Cancelled: %d of %d requests resolved.\n", e.Resolved, e.Total)
			return
		}
		fmt.Fprintln(p.out, "Sending API requests is finished.")
	}
}

// Summary prints the run totals and where failures went.
func (p *Printer) Summary(report *application.Report) {
	run := report.Run
	fmt.Fprintf(p.out, "Run %s: %s, %s\n",
		run.ID(),
		SuccessStyle.Render(fmt.Sprintf("%d succeeded", run.Succeeded())),
		failedText(run.Failed()),
	)
	switch {
	case report.FailuresFile != "":
		fmt.Fprintf(p.out, "Failed registrations written to %s\n", report.FailuresFile)
	case len(report.Failures) > 0:
		fmt.Fprintf(p.out, "Retry the failures with: bulkreg retry %s\n", run.ID())
	default:
		fmt.Fprintln(p.out, "No failed registrations.")
	}
}

func failedText(n int) string {
	text := fmt.Sprintf("%d failed", n)
	if n == 0 {
		return MutedStyle.Render(text)
	}
	return ErrorStyle.Render(text)
}
