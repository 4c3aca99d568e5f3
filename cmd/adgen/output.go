package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/adgen/internal/notify"
	"github.com/kalambet/adgen/internal/session"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Progress output goes to stderr so stdout stays clean for JSON.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func printScript(s *session.Script) {
	if s == nil {
		return
	}
	fmt.Fprintln(stderr, colorize(colorBold, "Narration:"))
	fmt.Fprintln(stderr, indent(s.AudioScript))
	fmt.Fprintln(stderr, colorize(colorBold, "Scene directions:"))
	fmt.Fprintln(stderr, indent(s.VideoScript))
}

// printEvent renders one notification and reports whether the watch is over.
func printEvent(ev notify.Event, sessionID string) (done bool) {
	switch ev.Kind {
	case notify.KindStageStarted:
		printStep("%s", ev.Message)
	case notify.KindStageCompleted:
		printSuccess("%s", ev.Message)
	case notify.KindAwaitingFeedback:
		printSuccess("%s", ev.Message)
		printScript(ev.Script)
		fmt.Fprintf(stderr, "\nApprove with:  adgen feedback %s approve\nRevise with:   adgen feedback %s \"<what to change>\"\n", sessionID, sessionID)
		return true
	case notify.KindCompleted:
		if ev.PublishFailed {
			printWarning("%s", ev.Message)
		} else {
			printSuccess("%s", ev.Message)
		}
		printStatus("Video", "%s", ev.VideoURL)
		return true
	case notify.KindError:
		printError("%s", ev.Message)
		return true
	default:
		printStatus(string(ev.Status), "%s", ev.Message)
	}
	return false
}

// printSession prints the human summary of a session record.
func printSession(s session.Session) {
	printStatus("Session", "%s", s.ID)
	printStatus("Status", "%s", statusLabel(s.Status))
	printStatus("Step", "%s", s.Step)
	printStatus("Product", "%s", s.Inputs.ProductURL)
	if s.Metadata != nil && s.Metadata.ProductName != "" {
		printStatus("Name", "%s", s.Metadata.ProductName)
	}
	if s.Message != "" {
		printStatus("Message", "%s", s.Message)
	}
	if s.Revisions > 0 {
		printStatus("Revisions", "%d", s.Revisions)
	}
	if s.FinalVideo != "" {
		printStatus("Video", "%s", s.FinalVideo)
	}
	if s.Status == session.StatusAwaitingFeedback {
		printScript(s.Script)
	}
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusCompleted:
		return colorize(colorGreen, string(s))
	case session.StatusError:
		return colorize(colorRed, string(s))
	case session.StatusAwaitingFeedback:
		return colorize(colorYellow, string(s))
	}
	return string(s)
}

func indent(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
