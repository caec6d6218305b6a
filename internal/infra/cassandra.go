package infra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// NewCassandraSession connects to the keyspace holding the block table.
func NewCassandraSession(hosts []string, keyspace string) (*gocql.Session, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one cassandra host is required")
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect cassandra: %w", err)
	}
	return session, nil
}
