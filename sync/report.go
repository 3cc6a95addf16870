package sync

import (
	"fmt"
	"io"

	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/worklist"
)

// OrderResult is the terminal outcome of one order in a run. Backends holds
// the per-backend sub-results when publishing was attempted; partial success
// across backends is visible here, never collapsed into one boolean.
type OrderResult struct {
	OrderID         int64                `json:"orderId"`
	AccessionNumber string               `json:"accessionNumber"`
	State           string               `json:"state"`
	Reason          string               `json:"reason,omitempty"`
	ExternalStudyID string               `json:"externalStudyId,omitempty"`
	Backends        []pacs.PublishResult `json:"backends,omitempty"`

	// Item is the would-be worklist item, populated in dry runs only.
	Item *worklist.Item `json:"item,omitempty"`
}

// Report is the ordered result set of one run plus aggregate counts. In
// non-dry-run mode this is the sole source of truth for operational auditing.
type Report struct {
	Results   []OrderResult `json:"results"`
	Published int           `json:"published"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Planned   int           `json:"planned"`
	DryRun    bool          `json:"dryRun"`
}

// NewReport aggregates the per-order results.
func NewReport(results []OrderResult, dryRun bool) *Report {
	r := &Report{Results: results, DryRun: dryRun}
	for _, res := range results {
		switch res.State {
		case StatePublished:
			r.Published++
		case StateSkipped:
			r.Skipped++
		case StateFailed:
			r.Failed++
		case StatePlanned:
			r.Planned++
		}
	}
	return r
}

// Render writes the report: one line per order (and per backend sub-result),
// then the summary counts.
func (r *Report) Render(w io.Writer) {
	for _, res := range r.Results {
		if len(res.Backends) == 0 {
			line := fmt.Sprintf("%-12s order=%d accession=%s", res.State, res.OrderID, res.AccessionNumber)
			if res.Reason != "" {
				line += " reason=" + res.Reason
			}
			fmt.Fprintln(w, line)
			continue
		}
		for _, b := range res.Backends {
			outcome := "ok"
			if !b.Success {
				outcome = "error"
			} else if b.Duplicate {
				outcome = "duplicate"
			}
			line := fmt.Sprintf("%-12s order=%d accession=%s backend=%s outcome=%s",
				res.State, res.OrderID, res.AccessionNumber, b.Backend, outcome)
			if b.ExternalStudyID != "" {
				line += " externalId=" + b.ExternalStudyID
			}
			if b.ErrorMessage != "" {
				line += " error=" + b.ErrorMessage
			}
			fmt.Fprintln(w, line)
		}
	}

	if r.DryRun {
		fmt.Fprintf(w, "dry run: %d planned, %d skipped, %d failed\n", r.Planned, r.Skipped, r.Failed)
		return
	}
	fmt.Fprintf(w, "summary: %d published, %d skipped, %d failed\n", r.Published, r.Skipped, r.Failed)
}
