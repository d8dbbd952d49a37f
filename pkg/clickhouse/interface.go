package clickhouse

import (
	"context"

	"github.com/ClickHouse/ch-go/proto"
)

// ClientInterface defines the methods for writing to ClickHouse.
type ClientInterface interface {
	// Start dials the connection pool.
	Start(ctx context.Context) error
	// Stop closes the client
	Stop() error
	// Insert writes the columns in input to table.
	Insert(ctx context.Context, table string, input proto.Input) error
}
