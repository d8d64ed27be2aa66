// Package lightning implements driver.Driver against an LND node over gRPC
// with TLS + macaroon credentials. Only the receive path is wired (AddInvoice,
// SubscribeInvoices, LookupInvoice): a storefront mints and watches invoices,
// it never pays them.
package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"storefront/internal/driver"
	"storefront/pkg/logger"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config carries the LND connection parameters plus an invoice expiry
// default.
type Config struct {
	GRPCHost             string
	GRPCPort             string
	TLSCertPath          string
	MacaroonPath         string
	Network              string
	InvoiceExpirySeconds int64
}

// macaroonCredential attaches the hex-encoded macaroon as gRPC metadata on
// every RPC.
type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool { return true }

// Client is the Lightning driver.Driver implementation.
type Client struct {
	conn   *grpc.ClientConn
	ln     lnrpc.LightningClient
	router routerrpc.RouterClient
	cfg    Config
}

var _ driver.Driver = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("load tls cert %s: %w", cfg.TLSCertPath, err)
	}

	macaroonBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read macaroon %s: %w", cfg.MacaroonPath, err)
	}
	macCreds := macaroonCredential{macaroon: hex.EncodeToString(macaroonBytes)}

	addr := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macCreds))
	if err != nil {
		return nil, fmt.Errorf("dial lnd %s: %w", addr, err)
	}

	ln := lnrpc.NewLightningClient(conn)

	info, err := ln.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("lnd GetInfo (is it running, wallet unlocked?): %w", err)
	}
	logger.Info("lnd connected",
		zap.String("alias", info.Alias), zap.String("pubkey", info.IdentityPubkey),
		zap.Uint32("block_height", info.BlockHeight), zap.Bool("synced_chain", info.SyncedToChain))
	if !info.SyncedToChain {
		logger.Warn("lnd is not synced to chain; invoices may not settle until sync completes")
	}

	return &Client{
		conn:   conn,
		ln:     ln,
		router: routerrpc.NewRouterClient(conn),
		cfg:    cfg,
	}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Capabilities() driver.Capabilities {
	return driver.Capabilities{LightningInvoice: true, PushStream: true, StatusPoll: true}
}
