package reconcile

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/newtron-network/nbseed/pkg/cli"
)

// Event reports one object the run ensured, or failed to.
type Event struct {
	Step     string
	Kind     string
	Key      string
	State    State
	ObjectID int
	Duration time.Duration
	Err      error
}

// Reporter receives lifecycle callbacks during a run.
type Reporter interface {
	RunStart(netboxURL, document string, steps int)
	StepStart(name string, index, total int)
	Object(ev Event)
	StepEnd(name string, d time.Duration, err error)
	RunEnd(res *Result, d time.Duration, err error)
}

// consoleProgress is an append-only terminal reporter: one line per object,
// never rewriting earlier output, so it is safe for pipes and CI logs.
type consoleProgress struct {
	W       io.Writer
	Verbose bool

	dotWidth int
}

// NewConsoleProgress creates a reporter writing to stdout. Every object gets
// a line, so objects found in NetBox are reported as skipped creates;
// verbose adds NetBox IDs and step timings.
func NewConsoleProgress(verbose bool) Reporter {
	return &consoleProgress{W: os.Stdout, Verbose: verbose, dotWidth: 60}
}

func (p *consoleProgress) RunStart(netboxURL, document string, steps int) {
	fmt.Fprintf(p.W, "\nnbseed: seeding %s into %s (%d steps)\n\n", document, netboxURL, steps)
}

func (p *consoleProgress) StepStart(name string, index, total int) {
	fmt.Fprintf(p.W, "  [%d/%d] %s\n", index+1, total, cli.Bold(name))
}

func (p *consoleProgress) Object(ev Event) {
	label := cli.DotPad(ev.Kind+" "+ev.Key, p.dotWidth)
	var status string
	switch {
	case ev.Err != nil:
		status = cli.Red("FAIL")
	case ev.State == Created:
		status = cli.Green("created")
	case ev.State == Existing:
		status = cli.Yellow("exists, skipped")
	case ev.State == Skipped:
		status = cli.Yellow("skipped")
	}
	if p.Verbose && ev.Err == nil && ev.ObjectID != 0 {
		status += cli.Dim(fmt.Sprintf(" #%d", ev.ObjectID))
	}
	fmt.Fprintf(p.W, "        %s %s\n", label, status)
}

func (p *consoleProgress) StepEnd(name string, d time.Duration, err error) {
	if err != nil {
		fmt.Fprintf(p.W, "        %s\n", cli.Red(err.Error()))
		return
	}
	if p.Verbose {
		fmt.Fprintf(p.W, "        %s\n", cli.Dim(formatDuration(d)))
	}
}

func (p *consoleProgress) RunEnd(res *Result, d time.Duration, err error) {
	fmt.Fprintln(p.W)
	var parts []string
	if res != nil {
		if n := res.Count(Created); n > 0 {
			parts = append(parts, cli.Green(fmt.Sprintf("%d created", n)))
		}
		if n := res.Count(Existing); n > 0 {
			parts = append(parts, cli.Yellow(fmt.Sprintf("%d existing", n)))
		}
		if n := res.Count(Skipped); n > 0 {
			parts = append(parts, cli.Yellow(fmt.Sprintf("%d skipped", n)))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	status := cli.Green("done")
	if err != nil {
		status = cli.Red("FAILED")
	}
	fmt.Fprintf(p.W, "nbseed: %s: %s (%s)\n", status, strings.Join(parts, ", "), formatDuration(d))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// nopReporter discards everything.
type nopReporter struct{}

func (nopReporter) RunStart(string, string, int)         {}
func (nopReporter) StepStart(string, int, int)           {}
func (nopReporter) Object(Event)                         {}
func (nopReporter) StepEnd(string, time.Duration, error) {}
func (nopReporter) RunEnd(*Result, time.Duration, error) {}
