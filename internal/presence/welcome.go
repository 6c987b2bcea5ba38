package presence

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	welcomeKeyPrefix = "attend:welcomed:"
	welcomeTTL       = 24 * time.Hour
)

// RedisWelcomeGate debounces the new-employee signal with a 24h
// SETNX key, so restarts do not re-welcome the same person.
type RedisWelcomeGate struct {
	client *redis.Client
}

func NewRedisWelcomeGate(client *redis.Client) *RedisWelcomeGate {
	return &RedisWelcomeGate{client: client}
}

// Allow claims the employee's welcome slot. Returns false when the
// slot is already held or Redis is unreachable; a missed welcome is
// preferable to a duplicate one.
func (g *RedisWelcomeGate) Allow(ctx context.Context, employeeID int) bool {
	key := welcomeKeyPrefix + strconv.Itoa(employeeID)
	ok, err := g.client.SetNX(ctx, key, time.Now().Unix(), welcomeTTL).Result()
	if err != nil {
		log.Printf("[Presence] Welcome debounce unavailable for employee %d: %v", employeeID, err)
		return false
	}
	return ok
}
