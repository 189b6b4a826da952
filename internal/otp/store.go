// Package otp implements one-time-code issuance and verification on the shared
// key-value store. Every operation that decides anything runs as a single
// server-side script, so concurrent requests for the same phone cannot
// interleave between a read and a write.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCooldownActive is returned when a code was requested again before the
// re-issuance cooldown elapsed.
var ErrCooldownActive = errors.New("otp: cooldown active")

// Config controls the TTL windows and the per-phone request cap.
type Config struct {
	CodeTTL       time.Duration
	VerifiedTTL   time.Duration
	Cooldown      time.Duration
	AttemptWindow time.Duration
	AttemptCap    int
}

// DefaultConfig matches the protocol requirements: 15m codes, 30m verified
// tickets, 60s cooldown, 5 requests per phone per hour.
func DefaultConfig() Config {
	return Config{
		CodeTTL:       15 * time.Minute,
		VerifiedTTL:   30 * time.Minute,
		Cooldown:      60 * time.Second,
		AttemptWindow: time.Hour,
		AttemptCap:    5,
	}
}

// Store issues and verifies one-time codes keyed by (phone, purpose).
type Store struct {
	rdb redis.Scripter
	cfg Config
}

// NewStore wraps an initialized redis client. Connectivity is the caller's
// concern: main pings the client once and treats failure as fatal.
func NewStore(rdb redis.Scripter, cfg Config) *Store {
	return &Store{rdb: rdb, cfg: cfg}
}

// requestScript issues a code unless the cooldown flag is still alive, setting
// both keys in one step.
var requestScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
redis.call("SET", KEYS[2], "1", "EX", ARGV[3])
return 1
`)

// verifyScript is a compare-delete-and-set: the code is consumed and the
// verified flag written only when the supplied value matches, so exactly one
// of N racing callers can succeed.
var verifyScript = redis.NewScript(`
local stored = redis.call("GET", KEYS[1])
if not stored or stored ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SET", KEYS[2], "1", "EX", ARGV[2])
return 1
`)

// consumeScript is a get-and-delete of the verified flag.
var consumeScript = redis.NewScript(`
local flag = redis.call("GET", KEYS[1])
if not flag then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// rateScript increments the per-phone counter, arming its expiry on the first
// increment of the window.
var rateScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
if n > tonumber(ARGV[2]) then
  return 0
end
return 1
`)

// RequestCode generates a 6-digit code for (phone, purpose), stores it with
// the code TTL and arms the cooldown flag. Returns the code so the caller can
// dispatch it over SMS.
func (s *Store) RequestCode(ctx context.Context, phone, purpose string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	allowed, err := requestScript.Run(ctx, s.rdb,
		[]string{codeKey(phone, purpose), cooldownKey(phone, purpose)},
		code,
		int(s.cfg.CodeTTL.Seconds()),
		int(s.cfg.Cooldown.Seconds()),
	).Int()
	if err != nil {
		return "", err
	}
	if allowed == 0 {
		return "", ErrCooldownActive
	}

	return code, nil
}

// VerifyCode atomically consumes the stored code and sets the one-time
// verified ticket iff the supplied code matches. A mismatch leaves all state
// untouched.
func (s *Store) VerifyCode(ctx context.Context, phone, purpose, code string) bool {
	ok, err := verifyScript.Run(ctx, s.rdb,
		[]string{codeKey(phone, purpose), verifiedKey(phone, purpose)},
		code,
		int(s.cfg.VerifiedTTL.Seconds()),
	).Int()
	if err != nil {
		log.Printf("[OTP] verify script failed for %s/%s: %v", phone, purpose, err)
		return false
	}
	return ok == 1
}

// ConsumeVerified spends the one-time verified ticket. The final
// account-mutation step calls this exactly once; a second call observes false.
func (s *Store) ConsumeVerified(ctx context.Context, phone, purpose string) bool {
	ok, err := consumeScript.Run(ctx, s.rdb, []string{verifiedKey(phone, purpose)}).Int()
	if err != nil {
		log.Printf("[OTP] consume script failed for %s/%s: %v", phone, purpose, err)
		return false
	}
	return ok == 1
}

// CheckRateLimit counts a request against the global per-phone window,
// regardless of purpose. Returns false once the cap is exceeded; store errors
// also answer false so callers always get a deterministic decision.
func (s *Store) CheckRateLimit(ctx context.Context, phone string) bool {
	ok, err := rateScript.Run(ctx, s.rdb,
		[]string{attemptsKey(phone)},
		int(s.cfg.AttemptWindow.Seconds()),
		s.cfg.AttemptCap,
	).Int()
	if err != nil {
		log.Printf("[OTP] rate limit script failed for %s: %v", phone, err)
		return false
	}
	return ok == 1
}

func codeKey(phone, purpose string) string {
	return fmt.Sprintf("otp:%s:%s", phone, purpose)
}

func verifiedKey(phone, purpose string) string {
	return fmt.Sprintf("otp_verified:%s:%s", phone, purpose)
}

func cooldownKey(phone, purpose string) string {
	return fmt.Sprintf("otp_cooldown:%s:%s", phone, purpose)
}

func attemptsKey(phone string) string {
	return fmt.Sprintf("otp_attempts:%s", phone)
}

func generateCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
