package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla keyspace %s: %w", keyspace, err)
	}

	slog.Info("Connected to ScyllaDB cluster", "keyspace", keyspace)
	return &Session{Session: session}, nil
}

// MessagesTable is the append log: one partition per channel, rows ordered by
// the snowflake ordering key.
const MessagesTable = `CREATE TABLE IF NOT EXISTS messages (
	channel_id text,
	id bigint,
	user_id text,
	user_name text,
	user_avatar text,
	content text,
	image text,
	timestamp timestamp,
	PRIMARY KEY (channel_id, id)
) WITH CLUSTERING ORDER BY (id DESC)`

// EnsureSchema creates the keyspace and the messages table if missing.
func EnsureSchema(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	err = sys.Query(fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)).Exec()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}

	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Query(MessagesTable).Exec(); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}
