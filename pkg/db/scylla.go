// Package db connects to ScyllaDB and owns the CQL schema used by scyllastore.
package db

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

var errNoHosts = errors.New("no scylla hosts configured")

// Session is a gocql session bound to one keyspace.
type Session struct {
	*gocql.Session
	keyspace string
}

func (s *Session) Keyspace() string { return s.keyspace }

// newCluster configures quorum reads and writes. Conditional statements
// (IF NOT EXISTS, IF users = ?) run their Paxos round at LOCAL_SERIAL.
func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        time.Second,
	}
	return cluster
}

func NewSession(hosts []string, keyspace string, log *slog.Logger) (*Session, error) {
	if len(hosts) == 0 {
		return nil, errNoHosts
	}
	session, err := newCluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to %v/%s: %w", hosts, keyspace, err)
	}

	log.Info("Connected to ScyllaDB cluster", "hosts", hosts, "keyspace", keyspace)
	return &Session{Session: session, keyspace: keyspace}, nil
}
