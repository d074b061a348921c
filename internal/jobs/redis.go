package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "job:"

// jobTTL bounds how long finished job records linger.
const jobTTL = 24 * time.Hour

// Conn dials redis and verifies the connection.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// redisStore implements Store on redis so job status survives restarts.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed job store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Save(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL).Err()
}

func (s *redisStore) Get(ctx context.Context, id string) (Job, error) {
	val, err := s.client.Get(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return Job{}, err
	}

	var job Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return Job{}, err
	}
	return job, nil
}
