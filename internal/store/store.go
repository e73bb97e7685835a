// Package store is the State Store Client (SSC): a thin abstraction
// over Redis with TTL, atomic compare-and-set, and publish/subscribe,
// grounded on this lineage's existing Redis wrapper
// (infrastructures/cache) and its Lua-script CAS idiom
// (infrastructures/fetcher/cursor_store.go), generalized from a cursor
// lease to full session-state documents.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/errs"
	"github.com/synckairos/synckairos/internal/session"
	"github.com/synckairos/synckairos/internal/wsmsg"
)

const (
	sessionTTL     = 3600 * time.Second
	sessionKeyFmt  = "session:%s"
	updatesChannel = "session-updates"
	wsChannelFmt   = "ws:%s"
)

// Recoverer is invoked on a store miss. It returns the last-known
// snapshot, or nil if none exists.
type Recoverer interface {
	Recover(ctx context.Context, sessionID string) (*session.Session, error)
}

// Client implements session.Store against Redis.
type Client struct {
	rdb       *redis.Client
	recoverer Recoverer
	log       *zap.SugaredLogger
	casScript *redis.Script
}

func sessionKey(id string) string { return fmt.Sprintf(sessionKeyFmt, id) }
func wsChannel(id string) string  { return fmt.Sprintf(wsChannelFmt, id) }

// NewClient wraps an already-constructed redis.Client. recoverer may be
// nil, in which case a store miss simply returns (nil, nil).
func NewClient(rdb *redis.Client, recoverer Recoverer, log *zap.SugaredLogger) *Client {
	return &Client{
		rdb:       rdb,
		recoverer: recoverer,
		log:       log,
		casScript: redis.NewScript(casUpdateLua),
	}
}

// casUpdateLua performs the read-modify-write compare-and-set: it
// rejects with -1 if the stored version does not match the
// expected version, 0 if the key is missing, 1 on success. It mirrors the
// cursor-store CAS script this lineage already ships, generalized from a
// single cursor value to an arbitrary JSON document plus its TTL refresh.
const casUpdateLua = `
-- KEYS: 1=valueKey
-- ARGV: 1=expectVersion, 2=newValueJSON, 3=ttlSeconds
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local ok, decoded = pcall(cjson.decode, raw)
if not ok then
  return -2
end
if tostring(decoded['version']) ~= ARGV[1] then
  return -1
end
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 1
`

// Get returns the session state, or nil if absent after attempting
// recovery through the Recovery Loader.
func (c *Client) Get(ctx context.Context, id string) (*session.Session, error) {
	raw, err := c.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return c.recover(ctx, id)
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err)
	}

	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errs.StateDeserialization(err)
	}
	return &s, nil
}

func (c *Client) recover(ctx context.Context, id string) (*session.Session, error) {
	if c.recoverer == nil {
		return nil, nil
	}
	s, err := c.recoverer.Recover(ctx, id)
	if err != nil {
		return nil, errs.StoreUnavailable(err)
	}
	if s == nil {
		return nil, nil
	}
	// Write the recovered snapshot back unconditionally: it is
	// newly materialized and has no version to CAS against.
	if err := c.writeUnconditional(ctx, s); err != nil {
		c.log.Warnw("store: failed to write back recovered snapshot", "session_id", id, "err", err)
	}
	return s, nil
}

func (c *Client) writeUnconditional(ctx context.Context, s *session.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, sessionKey(s.SessionID), b, sessionTTL).Err()
}

// Create persists a brand-new session unconditionally ( createSession).
func (c *Client) Create(ctx context.Context, s *session.Session) error {
	if err := c.writeUnconditional(ctx, s); err != nil {
		return errs.StoreUnavailable(err)
	}
	return nil
}

// Update performs the compare-and-set write. It sets s.Version to
// expectedVersion+1 before writing, so the caller's copy carries the
// new version, and refreshes the TTL to 3600s on success.
func (c *Client) Update(ctx context.Context, id string, s *session.Session, expectedVersion int64) error {
	s.Version = expectedVersion + 1
	b, err := json.Marshal(s)
	if err != nil {
		return errs.Internal(err)
	}

	res, err := c.casScript.Run(ctx, c.rdb, []string{sessionKey(id)},
		fmt.Sprintf("%d", expectedVersion), b, int64(sessionTTL/time.Second)).Int64()
	if err != nil {
		return errs.StoreUnavailable(err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return errs.SessionNotFound(id)
	case -1:
		return errs.ConcurrentModification(fmt.Sprintf("session %s version mismatch", id))
	default:
		return errs.StateDeserialization(fmt.Errorf("cas script returned %d", res))
	}
}

// Delete removes the session from the store ( lifecycle).
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return errs.StoreUnavailable(err)
	}
	return nil
}

type updateMessage struct {
	SessionID string           `json:"sessionId"`
	State     *session.Session `json:"state,omitempty"`
	Deleted   bool             `json:"deleted,omitempty"`
}

// PublishUpdate fire-and-forgets onto the session-updates channel. A
// nil s publishes a tombstone.
func (c *Client) PublishUpdate(ctx context.Context, id string, s *session.Session) {
	msg := updateMessage{SessionID: id}
	if s == nil {
		msg.Deleted = true
	} else {
		msg.State = s
	}
	b, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorw("store: failed to marshal session-updates payload", "session_id", id, "err", err)
		return
	}
	if err := c.rdb.Publish(ctx, updatesChannel, b).Err(); err != nil {
		c.log.Warnw("store: publish to session-updates failed", "session_id", id, "err", err)
	}
}

// PublishWS fire-and-forgets a typed client message onto ws:{id} (spec
// §4.1, §4.4 cross-instance fan-out).
func (c *Client) PublishWS(ctx context.Context, sessionID string, typ string, state *session.Session, expiredParticipantID, action string) {
	var env wsmsg.Envelope
	switch wsmsg.Type(typ) {
	case wsmsg.TypeTimeExpired:
		env = wsmsg.TimeExpired(sessionID, expiredParticipantID, action)
	default:
		env = wsmsg.StateUpdate(state)
	}

	b, err := json.Marshal(env)
	if err != nil {
		c.log.Errorw("store: failed to marshal ws payload", "session_id", sessionID, "err", err)
		return
	}
	if err := c.rdb.Publish(ctx, wsChannel(sessionID), b).Err(); err != nil {
		c.log.Warnw("store: publish to ws channel failed", "session_id", sessionID, "err", err)
	}
}

// SubscribeUpdates subscribes to session-updates and invokes handler for
// every message until ctx is cancelled ( subscribeUpdates).
func (c *Client) SubscribeUpdates(ctx context.Context, handler func(sessionID string, s *session.Session, deleted bool)) {
	sub := c.rdb.Subscribe(ctx, updatesChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var um updateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &um); err != nil {
				c.log.Warnw("store: failed to decode session-updates message", "err", err)
				continue
			}
			handler(um.SessionID, um.State, um.Deleted)
		}
	}
}

// SubscribeWS subscribes to the ws:* pattern used by every instance's
// WebSocket Hub ( cross-instance fan-out).
func (c *Client) SubscribeWS(ctx context.Context, handler func(sessionID string, env wsmsg.Envelope)) {
	sub := c.rdb.PSubscribe(ctx, fmt.Sprintf(wsChannelFmt, "*"))
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env wsmsg.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.log.Warnw("store: failed to decode ws message", "err", err)
				continue
			}
			sessionID := env.SessionID
			handler(sessionID, env)
		}
	}
}

// PutIdempotent caches a response body under idempotency:{key} with a
// 24h TTL.
func (c *Client) PutIdempotent(ctx context.Context, key string, response []byte) error {
	if err := c.rdb.Set(ctx, idemKey(key), response, 24*time.Hour).Err(); err != nil {
		return errs.StoreUnavailable(err)
	}
	return nil
}

// GetIdempotent returns a cached response, or nil if absent/expired.
func (c *Client) GetIdempotent(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, idemKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err)
	}
	return b, nil
}

func idemKey(key string) string { return "idempotency:" + key }

// Ping verifies store reachability for /health and /ready.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errs.StoreUnavailable(err)
	}
	return nil
}
