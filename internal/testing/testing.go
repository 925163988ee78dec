// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"

	"github.com/soulmesh/soulmesh/internal/models"
	"github.com/soulmesh/soulmesh/internal/transfer"
)

// MockProvider is a test double for [search.Provider]
type MockProvider struct {
	Results []models.SearchResult
	Err     error
	Calls   int
}

func (m *MockProvider) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Results, nil
}

// MockTransferClient is a test double for [transfer.Client]
type MockTransferClient struct {
	StartErr  error
	CancelErr error
	PingErr   error
}

func (m *MockTransferClient) StartTransfer(ctx context.Context, source transfer.Source, destination string, progress transfer.ProgressFunc) error {
	return m.StartErr
}

func (m *MockTransferClient) CancelTransfer(ctx context.Context, source transfer.Source) error {
	return m.CancelErr
}

func (m *MockTransferClient) Ping(ctx context.Context) error {
	return m.PingErr
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}
