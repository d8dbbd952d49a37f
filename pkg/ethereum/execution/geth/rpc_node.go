package geth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/execution-tracer/pkg/ethereum"
	"github.com/ethpandaops/execution-tracer/pkg/ethereum/execution"
)

// Compile-time check that RPCNode implements execution.Node interface.
var _ execution.Node = (*RPCNode)(nil)

var (
	ErrNotStarted         = errors.New("execution node not started")
	ErrTransactionPending = errors.New("transaction is pending")
)

// headerTransport adds custom headers to requests and respects context cancellation.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	// Check if context is already cancelled before making request
	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	return t.base.RoundTrip(req)
}

// RPCNode implements execution.Node using JSON-RPC connections.
type RPCNode struct {
	config *execution.Config
	log    logrus.FieldLogger

	mu        sync.RWMutex
	client    *ethclient.Client
	rpcClient *rpc.Client
	chainID   int64
}

// NewRPCNode creates a new RPC-based execution node.
func NewRPCNode(log logrus.FieldLogger, conf *execution.Config) *RPCNode {
	return &RPCNode{
		config: conf,
		log:    log.WithFields(logrus.Fields{"type": "execution", "source": conf.Name}),
	}
}

func (n *RPCNode) Name() string {
	return n.config.Name
}

func (n *RPCNode) ChainID() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.chainID
}

func (n *RPCNode) Start(ctx context.Context) error {
	n.log.WithField("node_address", n.config.NodeAddress).Info("Starting execution node")

	// Create HTTP client without fixed timeout - let context handle it
	httpClient := http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	httpClient.Transport = &headerTransport{
		headers: n.config.NodeHeaders,
		base:    httpClient.Transport,
	}

	rpcClient, err := rpc.DialOptions(ctx, n.config.NodeAddress, rpc.WithHTTPClient(&httpClient))
	if err != nil {
		return fmt.Errorf("failed to create RPC client for %s: %w", n.config.NodeAddress, err)
	}

	n.mu.Lock()
	n.rpcClient = rpcClient
	n.client = ethclient.NewClient(rpcClient)
	n.mu.Unlock()

	chainID, err := call(ctx, n, "eth_chainId", func(ctx context.Context) (*big.Int, error) {
		return n.client.ChainID(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch chain ID: %w", err)
	}

	n.mu.Lock()
	n.chainID = chainID.Int64()
	n.mu.Unlock()

	n.log.WithFields(logrus.Fields{
		"chain_id": chainID.Int64(),
		"network":  ethereum.NetworkName(chainID.Int64()),
	}).Info("Execution node ready")

	return nil
}

func (n *RPCNode) Stop(_ context.Context) error {
	n.log.Info("Stopping execution node")

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.rpcClient != nil {
		n.rpcClient.Close()

		n.rpcClient = nil
		n.client = nil
	}

	return nil
}

// clients returns the connection, failing when Start has not run.
func (n *RPCNode) clients() (*ethclient.Client, *rpc.Client, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.client == nil {
		return nil, nil, ErrNotStarted
	}

	return n.client, n.rpcClient, nil
}
