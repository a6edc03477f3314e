package runlock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auction_scraper:run:"

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Only the holder's token may push the expiry out.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis guards runs across processes sharing one Redis. The key expires
// after ttl, and the holder renews it every ttl/3 until release, so a live
// run keeps its lock for as long as it takes while a crashed one blocks its
// provider for at most ttl.
type Redis struct {
	client     *redis.Client
	ttl        time.Duration
	renewEvery time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, ttl: ttl, renewEvery: ttl / 3}
}

func (r *Redis) Acquire(ctx context.Context, providerID uuid.UUID) (func(), error) {
	key := keyPrefix + providerID.String()
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.renew(key, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				log.Printf("Warning: failed to release run lock %s: %v", key, err)
			}
		})
	}, nil
}

// renew extends the key until stop is closed or the lock is found to belong
// to someone else.
func (r *Redis) renew(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := extendScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			log.Printf("Warning: failed to renew run lock %s: %v", key, err)
			continue
		}
		if n == 0 {
			log.Printf("Warning: run lock %s expired or was taken over; the run is no longer exclusive", key)
			return
		}
	}
}
