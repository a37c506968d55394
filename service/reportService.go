package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/assoctools/rolesync/entity"
)

// ReportService renders run reports and keeps the latest one for the
// report endpoint in interval mode.
type ReportService struct {
	mu     sync.RWMutex
	latest *entity.Report
}

func NewReportService() *ReportService {
	return &ReportService{}
}

func (s *ReportService) SetLatest(report *entity.Report) {
	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()
}

func (s *ReportService) Latest() *entity.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Render produces the operator-facing text summary.
func (s *ReportService) Render(report *entity.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s → %s\n",
		report.StartedAt.Format("2006-01-02 15:04:05"),
		report.FinishedAt.Format("15:04:05"))
	fmt.Fprintf(&b, "Orders: %d, roster: %d, members: %d (active %d, expired %d, unresolved %d)\n",
		report.Orders, report.Roster, report.Members, report.Active, report.Expired, report.Unresolved)

	if len(report.Actions) > 0 {
		fmt.Fprintf(&b, "\nActions (%d):\n", len(report.Actions))
		for _, a := range report.Actions {
			line := fmt.Sprintf("- %s @%s <%s>", a.Kind, a.Username, a.Email)
			if a.Error != "" {
				line += " FAILED: " + a.Error
			} else if !a.Notified {
				line += " (notification not delivered)"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(report.Corrections) > 0 {
		fmt.Fprintf(&b, "\nIdentity corrections (%d):\n", len(report.Corrections))
		for _, c := range report.Corrections {
			fmt.Fprintf(&b, "- <%s> %q (%d) → %q (%d)\n", c.Email, c.OldUsername, c.OldID, c.NewUsername, c.NewID)
		}
	}

	if len(report.Anomalies) > 0 {
		fmt.Fprintf(&b, "\nAnomalies (%d):\n", len(report.Anomalies))
		for _, a := range report.Anomalies {
			line := "- " + string(a.Kind)
			if a.Email != "" {
				line += " <" + a.Email + ">"
			}
			if a.Username != "" {
				line += " @" + a.Username
			}
			if a.Detail != "" {
				line += " (" + a.Detail + ")"
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

// FilterAnomalies returns a shallow copy of the report keeping only
// anomalies of the given kind.
func (s *ReportService) FilterAnomalies(report *entity.Report, kind entity.AnomalyKind) *entity.Report {
	filtered := *report
	filtered.Anomalies = nil
	for _, a := range report.Anomalies {
		if a.Kind == kind {
			filtered.Anomalies = append(filtered.Anomalies, a)
		}
	}
	return &filtered
}
