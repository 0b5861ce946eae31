package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keypad-service/internal/logger"
	"keypad-service/internal/types"

	"github.com/redis/go-redis/v9"
)

// Callbacks route inbound Redis commands into the keypad system.
type Callbacks struct {
	StateCallback func(string) error // "lock", "unlock"
}

// RedisClient is the diagnostic and staff-command channel. The keypad runs
// identically when Redis is unreachable; callers treat a failed Connect as
// degraded operation, not a fault.
type RedisClient struct {
	client    *redis.Client
	callbacks Callbacks
	logger    *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRedisClient(host string, port int, l *logger.Logger) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *RedisClient) SetCallbacks(callbacks Callbacks) {
	r.callbacks = callbacks
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

// StartListening starts the staff command listener after system
// initialization is complete.
func (r *RedisClient) StartListening() error {
	r.logger.Infof("Starting Redis listeners")

	r.wg.Add(1)
	go r.listCommandListener("keypad:state", r.handleStateCommand)

	return nil
}

func (r *RedisClient) listCommandListener(key string, handler func(string) error) {
	defer r.wg.Done()
	r.logger.Infof("Starting list command listener for %s", key)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Infof("Context cancelled, exiting %s listener", key)
			return
		default:
			// Use BRPOP with a short timeout to allow periodic context cancellation checks
			result, err := r.client.BRPop(r.ctx, 5*time.Second, key).Result()
			if err != nil {
				if err == redis.Nil {
					// Timeout elapsed, loop back to check context
					continue
				}
				if err == context.Canceled {
					r.logger.Infof("Context cancelled, exiting %s listener", key)
					return
				}
				r.logger.Infof("Error reading from %s list: %v", key, err)
				continue
			}

			if len(result) >= 2 { // BRPOP returns [key, value]
				value := result[1]
				r.logger.Debugf("Received command from %s: %s", key, value)
				if err := handler(value); err != nil {
					r.logger.Warnf("Error handling %s command: %v", key, err)
				}
			}
		}
	}
}

func (r *RedisClient) handleStateCommand(value string) error {
	if r.callbacks.StateCallback == nil {
		return nil
	}
	switch value {
	case "lock", "unlock":
		return r.callbacks.StateCallback(value)
	default:
		r.logger.Infof("Invalid state command value: %s", value)
		return fmt.Errorf("invalid state command: %s", value)
	}
}

// publishHashSet is a helper that atomically updates a hash field and publishes a notification
func (r *RedisClient) publishHashSet(hash, field string, value interface{}, channel, payload string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, hash, field, value)
	pipe.Publish(r.ctx, channel, payload)
	_, err := pipe.Exec(r.ctx)
	return err
}

// PublishDoorState mirrors the current door state into the keypad hash and
// notifies subscribers.
func (r *RedisClient) PublishDoorState(state types.DoorState) error {
	r.logger.Infof("Publishing door state: %s", state)
	timestamp := time.Now().Format(time.RFC3339)

	// Atomically set both state and timestamp fields
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, "keypad", "state", string(state))
	pipe.HSet(r.ctx, "keypad", "state:timestamp", timestamp)
	pipe.Publish(r.ctx, "keypad", "state")
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish door state: %v", err)
		return err
	}
	r.logger.Debugf("Successfully published door state with timestamp: %s", timestamp)
	return nil
}

// PublishButtonEvent publishes a registered press to the events channel.
func (r *RedisClient) PublishButtonEvent(letter string) error {
	r.logger.Debugf("Publishing button event: %s", letter)
	if err := r.client.Publish(r.ctx, "keypad:events", fmt.Sprintf("button:%s", letter)).Err(); err != nil {
		r.logger.Warnf("Failed to publish button event: %v", err)
		return err
	}
	return nil
}

// PublishOutcome records the result of a completed attempt.
func (r *RedisClient) PublishOutcome(outcome string) error {
	r.logger.Debugf("Publishing sequence outcome: %s", outcome)
	if err := r.publishHashSet("keypad", "last-outcome", outcome,
		"keypad:events", fmt.Sprintf("sequence:%s", outcome)); err != nil {
		r.logger.Warnf("Failed to publish sequence outcome: %v", err)
		return err
	}
	return nil
}

// PublishResetNotice reports reset gesture progress ("sampling", "confirming").
func (r *RedisClient) PublishResetNotice(phase string) error {
	r.logger.Debugf("Publishing reset notice: %s", phase)
	if err := r.client.Publish(r.ctx, "keypad:events", fmt.Sprintf("reset:%s", phase)).Err(); err != nil {
		r.logger.Warnf("Failed to publish reset notice: %v", err)
		return err
	}
	return nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()

	// Wait for all goroutines to finish with a timeout
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Infof("All Redis goroutines finished")
	case <-time.After(5 * time.Second):
		r.logger.Infof("Timeout waiting for Redis goroutines to finish")
	}

	return r.client.Close()
}
