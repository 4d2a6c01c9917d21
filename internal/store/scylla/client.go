package scylla

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/util"
)

// PreparedStatements holds the statements the token store actually executes.
// The claim statement is a lightweight transaction: the IF clause makes the
// eligibility check and the used flip one conditional write.
type PreparedStatements struct {
	InsertToken      *gocql.Query
	SelectCandidates *gocql.Query
	ClaimToken       *gocql.Query
}

type Client struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &Client{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (c *Client) prepareStatements() error {
	c.prepareMutex.Lock()
	defer c.prepareMutex.Unlock()

	if c.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.InsertToken = c.Session.Query(`
        INSERT INTO otp_tokens (email, type, otp_id, token, expires_at, used, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)

	// Clustering order is otp_id DESC, so newest records come back first.
	prepared.SelectCandidates = c.Session.Query(`
        SELECT otp_id, token, expires_at, used, created_at
        FROM otp_tokens
        WHERE email = ? AND type = ?
        LIMIT 10`)

	// Conditional claim. Re-checks used and expiry inside the transaction,
	// so two racing verifications cannot both win.
	prepared.ClaimToken = c.Session.Query(`
        UPDATE otp_tokens SET used = true
        WHERE email = ? AND type = ? AND otp_id = ?
        IF used = false AND expires_at > ?`)

	c.Prepared = prepared
	c.isPrepared = true
	return nil
}

func (c *Client) HealthCheck() error {
	var now time.Time
	if err := c.Session.Query(`SELECT now() FROM system.local`).Scan(&now); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	if c.Session != nil && !c.Session.Closed() {
		c.Session.Close()
		util.Info("ScyllaDB session closed")
	}
}
