// Package testutil provides test helper utilities for unit tests.
package testutil

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// NewLogger creates a discarding logger at debug level together with a hook
// that captures every entry for assertions.
func NewLogger(t *testing.T) (*logrus.Logger, *test.Hook) {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(io.Discard)

	t.Cleanup(hook.Reset)

	return log, hook
}

// Addr returns a deterministic address whose low bytes encode n.
func Addr(n uint64) common.Address {
	var a common.Address

	binary.BigEndian.PutUint64(a[common.AddressLength-8:], n)

	return a
}

// Hash returns a deterministic hash whose low bytes encode n.
func Hash(n uint64) common.Hash {
	var h common.Hash

	binary.BigEndian.PutUint64(h[common.HashLength-8:], n)

	return h
}

// EntriesWithMessage returns the captured entries logged with msg.
func EntriesWithMessage(hook *test.Hook, msg string) []logrus.Entry {
	var out []logrus.Entry

	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			out = append(out, *e)
		}
	}

	return out
}
