package redis

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"go.uber.org/zap"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and checks it with PING.
func Connect(opts Options, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	logger.Info("redis connected", zap.String("addr", opts.Addr))
	return client, nil
}

const claimPrefix = "gatekeeper:application:claim:"

// DefaultClaimTTL outlives the longest decision path (the rejection
// reason wait) so a crashed handler cannot block an application forever.
const DefaultClaimTTL = 10 * time.Minute

// Claims implements applications.Claims with SETNX, so several bot
// replicas never decide the same application twice.
type Claims struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClaims(client *redis.Client, ttl time.Duration) *Claims {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &Claims{client: client, ttl: ttl}
}

func (c *Claims) Claim(messageID string) (bool, error) {
	ok, err := c.client.SetNX(claimPrefix+messageID, time.Now().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", messageID, err)
	}
	return ok, nil
}

func (c *Claims) Release(messageID string) error {
	if err := c.client.Del(claimPrefix + messageID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", messageID, err)
	}
	return nil
}
