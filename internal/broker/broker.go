// Package broker connects to the Redis server that relays messages between
// the panel and the device processes. Device topics are named
// "<identifier>_<topic>".
package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/deixis/robopanel/internal/config"
)

// DeviceWindow is how recently a device must have announced itself to be
// listed.
const DeviceWindow = 60 * time.Second

// Message is one payload received on a subscribed topic.
type Message struct {
	Topic   string
	Payload string
}

// Client wraps a go-redis client with the operations the panel needs.
type Client struct {
	rdb *goredis.Client
	now func() time.Time
}

// Dial builds a client from cfg. No connection is made until first use.
func Dial(cfg config.RedisConfig) (*Client, error) {
	opts := &goredis.Options{
		Addr:     cfg.Address(),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.TLS || cfg.SelfSigned {
		tlsCfg, err := TLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsCfg
	}
	return &Client{rdb: goredis.NewClient(opts), now: time.Now}, nil
}

// TLSConfig returns the TLS settings for cfg. With SelfSigned set, the
// server certificate is verified against CACert instead of the system
// roots.
func TLSConfig(cfg config.RedisConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if !cfg.SelfSigned {
		return tlsCfg, nil
	}
	if cfg.CACert == "" {
		return nil, fmt.Errorf("self-signed broker requires ca_cert")
	}
	pem, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("reading broker certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
	}
	tlsCfg.RootCAs = pool
	return tlsCfg, nil
}

// Topic returns the broker topic for a device.
func Topic(identifier, topic string) string {
	return identifier + "_" + topic
}

// Publish sends message on topic.
func (c *Client) Publish(ctx context.Context, topic, message string) error {
	if err := c.rdb.Publish(ctx, topic, message).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe listens on topics until ctx is cancelled or the returned stop
// function is called. The message channel is closed when the subscription
// ends.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan Message, func() error, error) {
	sub := c.rdb.Subscribe(ctx, topics...)
	// Wait for the subscription confirmation so callers know it is live.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribing to %v: %w", topics, err)
	}

	ch := make(chan Message, 64)
	go func() {
		defer close(ch)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- Message{Topic: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()
	return ch, sub.Close, nil
}

// Devices returns the devices that announced themselves for username within
// DeviceWindow, sorted by name.
func (c *Client) Devices(ctx context.Context, username string) ([]string, error) {
	since := c.now().Add(-DeviceWindow)
	devices, err := c.rdb.ZRevRangeByScore(ctx, UserKey(username), &goredis.ZRangeBy{
		Min: strconv.FormatFloat(float64(since.UnixNano())/1e9, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing devices for %s: %w", username, err)
	}
	sort.Strings(devices)
	return devices, nil
}

// UserKey is the sorted set holding a user's devices scored by last-seen time.
func UserKey(username string) string {
	return "user:" + username
}

// sharedKeys are the service keys every registered user may access.
var sharedKeys = []string{
	"emotion_detection",
	"intent_detection",
	"people_detection",
	"face_recognition",
	"robot_memory",
}

// ACLArgs returns the ACL SETUSER arguments for a new account: enabled,
// with the given password, all commands except dangerous ones, and access
// to its own keys plus the shared service keys.
func ACLArgs(username, password string) []any {
	args := []any{"ACL", "SETUSER", username, "on", ">" + password, "+@all", "-@dangerous",
		"~" + UserKey(username), "~" + username + "-*"}
	for _, k := range sharedKeys {
		args = append(args, "~"+k)
	}
	return args
}

// RegisterUser creates a broker account and persists the ACL.
func (c *Client) RegisterUser(ctx context.Context, username, password string) error {
	pipe := c.rdb.Pipeline()
	setUser := pipe.Do(ctx, ACLArgs(username, password)...)
	save := pipe.Do(ctx, "ACL", "SAVE")
	_, execErr := pipe.Exec(ctx)
	if err := setUser.Err(); err != nil {
		return fmt.Errorf("registering %s: %w", username, err)
	}
	if err := save.Err(); err != nil {
		return fmt.Errorf("saving acl: %w", err)
	}
	if execErr != nil {
		return fmt.Errorf("registering %s: %w", username, execErr)
	}
	return nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
