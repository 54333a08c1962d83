// Package report renders suite results as console text, JSON or JUnit XML.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/wondertwin-ai/contractkit/internal/suite"
)

// Format names an output format.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatJUnit Format = "junit"
)

// ParseFormat validates a format name; the empty string means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatJUnit:
		return FormatJUnit, nil
	default:
		return "", fmt.Errorf("unknown report format %q (expected text, json, or junit)", s)
	}
}

// Write renders r to w in format f.
func Write(w io.Writer, f Format, r *suite.Result) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatJUnit:
		return WriteJUnit(w, r)
	default:
		return WriteText(w, r)
	}
}

// WriteText prints a console report: per-step PASS/FAIL lines for every
// scenario, then a summary table.
func WriteText(w io.Writer, r *suite.Result) error {
	if r.Aborted {
		fmt.Fprintf(w, "\nSuite ABORTED: %s\n", r.AbortReason)
		return nil
	}

	for _, sc := range r.Scenarios {
		fmt.Fprintf(w, "\n--- %s ---\n", sc.Name)
		if sc.Description != "" {
			fmt.Fprintf(w, "    %s\n", sc.Description)
		}
		fmt.Fprintln(w)

		if sc.Skipped {
			fmt.Fprintf(w, "  SKIP  %s\n", sc.Name)
			continue
		}
		for _, st := range sc.Steps {
			if st.Passed {
				fmt.Fprintf(w, "  PASS  %-50s (%s)\n", st.Name, st.Duration.Round(time.Millisecond))
				continue
			}
			fmt.Fprintf(w, "  FAIL  %-50s (%s)\n", st.Name, st.Duration.Round(time.Millisecond))
		}
		for _, f := range sc.Failures {
			if len(sc.Steps) == 0 {
				fmt.Fprintf(w, "  FAIL  %s\n", f.Step)
			}
			fmt.Fprintf(w, "        expected: %s\n", f.Expected)
			fmt.Fprintf(w, "        actual:   %s\n", f.Actual)
		}
		if ex := sc.LastExchange; ex != nil && !sc.Passed {
			fmt.Fprintf(w, "        last exchange: %s %s -> %d %s\n", ex.Method, ex.URL, ex.Status, ex.StatusText)
		}
		fmt.Fprintf(w, "\n  Scenario: %s (%s)\n", label(sc), sc.Duration.Round(time.Millisecond))
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Scenario", "Result", "Steps", "Duration"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, sc := range r.Scenarios {
		table.Append([]string{sc.Name, label(sc), strconv.Itoa(len(sc.Steps)), sc.Duration.Round(time.Millisecond).String()})
	}
	table.Render()

	passed, failed, skipped := r.Counts()
	fmt.Fprintf(w, "\nResults: %d passed, %d failed, %d skipped, %d total\n", passed, failed, skipped, len(r.Scenarios))
	return nil
}

func label(sc suite.ScenarioResult) string {
	switch {
	case sc.Skipped:
		return "SKIPPED"
	case sc.Passed:
		return "PASSED"
	default:
		return "FAILED"
	}
}

// jsonReport is the machine-readable report document.
type jsonReport struct {
	Scenarios   []suite.ScenarioResult `json:"scenarios"`
	Passed      int                    `json:"passed"`
	Failed      int                    `json:"failed"`
	Skipped     int                    `json:"skipped"`
	Aborted     bool                   `json:"aborted"`
	AbortReason string                 `json:"abortReason,omitempty"`
	ExitCode    int                    `json:"exitCode"`
	DurationMS  int64                  `json:"durationMs"`
}

// WriteJSON encodes r as an indented JSON document.
func WriteJSON(w io.Writer, r *suite.Result) error {
	passed, failed, skipped := r.Counts()
	doc := jsonReport{
		Scenarios:   r.Scenarios,
		Passed:      passed,
		Failed:      failed,
		Skipped:     skipped,
		Aborted:     r.Aborted,
		AbortReason: r.AbortReason,
		ExitCode:    r.ExitCode(),
		DurationMS:  r.Duration.Milliseconds(),
	}
	if doc.Scenarios == nil {
		doc.Scenarios = []suite.ScenarioResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitFailure `xml:"error,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnit encodes r as JUnit XML with one testcase per scenario.
// Expectation failures are <failure>, transport and setup failures <error>.
func WriteJUnit(w io.Writer, r *suite.Result) error {
	s := junitSuite{Name: "contractkit", Time: seconds(r.Duration)}
	if r.Aborted {
		s.Errors = 1
		s.Tests = 1
		s.Cases = append(s.Cases, junitCase{
			Name:      "suite setup",
			Classname: "contractkit",
			Time:      seconds(r.Duration),
			Error:     &junitFailure{Message: r.AbortReason, Type: "authentication", Body: r.AbortReason},
		})
	}

	for _, sc := range r.Scenarios {
		c := junitCase{Name: sc.Name, Classname: "contractkit", Time: seconds(sc.Duration)}
		s.Tests++
		switch {
		case sc.Skipped:
			c.Skipped = &struct{}{}
			s.Skipped++
		case len(sc.Failures) > 0:
			f := sc.Failures[0]
			jf := &junitFailure{
				Message: fmt.Sprintf("step %q: expected %s, got %s", f.Step, f.Expected, f.Actual),
				Type:    f.Kind,
				Body:    f.Message,
			}
			if f.Kind == "expectation" {
				c.Failure = jf
				s.Failures++
			} else {
				c.Error = jf
				s.Errors++
			}
		}
		s.Cases = append(s.Cases, c)
	}

	doc := junitSuites{
		Name:     s.Name,
		Tests:    s.Tests,
		Failures: s.Failures,
		Errors:   s.Errors,
		Skipped:  s.Skipped,
		Time:     s.Time,
		Suites:   []junitSuite{s},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
