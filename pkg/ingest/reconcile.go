package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/papercomputeco/finsight/pkg/document"
)

// ReconcileReport lists disagreements between the document store and the
// vector index.
type ReconcileReport struct {
	// Orphans are vector ids with no document.
	Orphans []string `json:"orphans"`

	// Missing are document ids with no vector.
	Missing []string `json:"missing"`

	Repaired bool `json:"repaired"`
	Removed  int  `json:"removed"`
	Embedded int  `json:"embedded"`
}

// Consistent reports whether both stores hold the same ids.
func (r *ReconcileReport) Consistent() bool {
	return len(r.Orphans) == 0 && len(r.Missing) == 0
}

// Reconcile compares both stores. With repair, orphan vectors are deleted and
// documents without vectors are embedded.
func (m *Manager) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vectorIDs, err := m.vectors.List(ctx)
	if err != nil {
		return nil, m.vectorError("listing vectors", err)
	}
	docs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	indexed := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		indexed[id] = struct{}{}
	}
	stored := make(map[string]struct{}, len(docs))
	report := &ReconcileReport{Orphans: []string{}, Missing: []string{}}
	var missing []*document.Document

	for _, doc := range docs {
		stored[doc.ID] = struct{}{}
		if _, ok := indexed[doc.ID]; !ok {
			report.Missing = append(report.Missing, doc.ID)
			missing = append(missing, doc)
		}
	}
	for _, id := range vectorIDs {
		if _, ok := stored[id]; !ok {
			report.Orphans = append(report.Orphans, id)
		}
	}
	sort.Strings(report.Orphans)
	sort.Strings(report.Missing)

	if !repair || report.Consistent() {
		m.logReport(report)
		return report, nil
	}

	if len(report.Orphans) > 0 {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.vectors.Delete(callCtx, report.Orphans)
		cancel()
		if err != nil {
			return nil, m.vectorError("deleting orphan vectors", err)
		}
		report.Removed = len(report.Orphans)
	}

	for start := 0; start < len(missing); start += reconcileBatch {
		end := min(start+reconcileBatch, len(missing))
		if err := m.index(ctx, missing[start:end]); err != nil {
			return nil, fmt.Errorf("embedding missing documents: %w", err)
		}
		report.Embedded += end - start
	}

	report.Repaired = true
	m.logReport(report)
	return report, nil
}

const reconcileBatch = 64

func (m *Manager) logReport(r *ReconcileReport) {
	if r.Consistent() {
		m.logger.Info("stores consistent")
		return
	}
	m.logger.Warn("stores inconsistent",
		"orphans", len(r.Orphans),
		"missing", len(r.Missing),
		"repaired", r.Repaired,
	)
}
