package messaging

import "sync"

// MockReportSender records execution reports in memory for testing.
type MockReportSender struct {
	mu      sync.Mutex
	reports []*ExecutionReport
	// Err, when set, is returned by SendExecutionReport.
	Err error
}

// NewMockReportSender creates a new MockReportSender.
func NewMockReportSender() *MockReportSender {
	return &MockReportSender{}
}

// SendExecutionReport records the report.
func (m *MockReportSender) SendExecutionReport(report *ExecutionReport) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

// Reports returns a copy of the recorded reports.
func (m *MockReportSender) Reports() []*ExecutionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ExecutionReport, len(m.reports))
	copy(out, m.reports)
	return out
}

// Close does nothing.
func (m *MockReportSender) Close() error {
	return nil
}

// Ensure MockReportSender implements ReportSender
var _ ReportSender = (*MockReportSender)(nil)
