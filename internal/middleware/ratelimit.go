package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Wizard turns (per user, IP for anonymous callers); a turn may run a model
	ChatMax        int
	ChatExpiration time.Duration

	// Session CRUD (per user)
	SessionsMax        int
	SessionsExpiration time.Duration
}

// DefaultRateLimitConfig returns production defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		ChatMax:        30,
		ChatExpiration: 1 * time.Minute,

		SessionsMax:        120,
		SessionsExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if n, ok := positiveEnv("RATE_LIMIT_GLOBAL_API"); ok {
		config.GlobalAPIMax = n
	}
	if n, ok := positiveEnv("RATE_LIMIT_CHAT"); ok {
		config.ChatMax = n
	}
	if n, ok := positiveEnv("RATE_LIMIT_SESSIONS"); ok {
		config.SessionsMax = n
	}

	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.ChatMax = 300
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

func positiveEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// ChatRateLimiter limits wizard turns. It must run after the auth middleware.
func ChatRateLimiter(config *RateLimitConfig) fiber.Handler {
	return userLimiter("chat", config.ChatMax, config.ChatExpiration,
		"Too many messages. Please wait before sending more.")
}

// SessionsRateLimiter limits session CRUD calls
func SessionsRateLimiter(config *RateLimitConfig) fiber.Handler {
	return userLimiter("sessions", config.SessionsMax, config.SessionsExpiration,
		"Too many requests. Please wait before trying again.")
}

func userLimiter(prefix string, max int, expiration time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := UserID(c); userID != "" {
				return prefix + ":" + userID
			}
			return prefix + "-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] %s limit reached for %q on %s", prefix, UserID(c), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       message,
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}
