// Package clickhouse provides test mocks for the ClickHouse client.
// This file should only be imported in test files.
package clickhouse

import (
	"context"
	"sync"

	"github.com/ClickHouse/ch-go/proto"
)

// Compile-time check that MockClient implements ClientInterface.
var _ ClientInterface = (*MockClient)(nil)

// MockClient is a mock implementation of ClientInterface for testing.
// It should only be used in test files, not in production code.
type MockClient struct {
	// Function fields that can be set by tests
	StartFunc  func(ctx context.Context) error
	StopFunc   func() error
	InsertFunc func(ctx context.Context, table string, input proto.Input) error

	mu sync.Mutex

	// Track calls for assertions
	Calls []MockCall
	// InsertedRows counts rows per table across successful inserts.
	InsertedRows map[string]int
}

// MockCall represents a method call made to the mock.
type MockCall struct {
	Method string
	Args   []any
}

// NewMockClient creates a new mock client with default implementations.
func NewMockClient() *MockClient {
	return &MockClient{
		Calls:        make([]MockCall, 0),
		InsertedRows: make(map[string]int),
	}
}

func (m *MockClient) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// Start implements ClientInterface.
func (m *MockClient) Start(ctx context.Context) error {
	m.record("Start")

	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}

	return nil
}

// Stop implements ClientInterface.
func (m *MockClient) Stop() error {
	m.record("Stop")

	if m.StopFunc != nil {
		return m.StopFunc()
	}

	return nil
}

// Insert implements ClientInterface. Rows are counted before the columns
// are reset by the caller.
func (m *MockClient) Insert(ctx context.Context, table string, input proto.Input) error {
	m.record("Insert", table, len(input))

	if m.InsertFunc != nil {
		if err := m.InsertFunc(ctx, table, input); err != nil {
			return err
		}
	}

	rows := 0
	if len(input) > 0 {
		rows = input[0].Data.Rows()
	}

	m.mu.Lock()
	m.InsertedRows[table] += rows
	m.mu.Unlock()

	return nil
}

// CallCount returns how many times method was called.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0

	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}

	return count
}

// Rows returns the number of rows inserted into table.
func (m *MockClient) Rows(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.InsertedRows[table]
}
