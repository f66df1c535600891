package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// RedisConfig holds the connection parameters for the minimal Redis client.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const (
	defaultTimeout = 5 * time.Second
	keyPrefix      = "sataplan:"
)

// RedisClient speaks just enough RESP for the Store contract: AUTH, SELECT,
// PING, GET, SET PX, DEL, INCR, PEXPIRE and PTTL. One connection, one command
// in flight, redialed on demand after an error.
type RedisClient struct {
	cfg RedisConfig

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

// NewRedisClient dials the server immediately so bad configuration fails at
// startup rather than on the first cache access.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &RedisClient{cfg: cfg}

	c.mu.Lock()
	err := c.dial(context.Background())
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ping issues a PING round trip.
func (c *RedisClient) Ping(ctx context.Context) error {
	rep, err := c.roundTrip(ctx, "PING")
	if err != nil {
		return err
	}
	if !rep.isStatus("PONG") {
		return fmt.Errorf("redis: unexpected PING reply %q", rep.str)
	}
	return nil
}

// Close tears down the connection. The client is not usable afterwards.
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.rd = nil, nil
	return err
}

// IncrementWithTTL bumps a counter and starts its expiry window on the first
// increment. Returns the count and the window's remaining duration.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := keyPrefix + key

	count, err := c.intCommand(ctx, "INCR", k)
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if _, err := c.intCommand(ctx, "PEXPIRE", k, millis(window)); err != nil {
			return 0, 0, err
		}
	}

	remaining, err := c.intCommand(ctx, "PTTL", k)
	if err != nil || remaining < 0 {
		// No expiry visible; report the full window rather than failing the caller.
		return count, window, nil
	}
	return count, time.Duration(remaining) * time.Millisecond, nil
}

// Set stores value under key with a PX expiry.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rep, err := c.roundTrip(ctx, "SET", keyPrefix+key, string(value), "PX", millis(ttl))
	if err != nil {
		return err
	}
	if !rep.isStatus("OK") {
		return fmt.Errorf("redis: SET replied %q", rep.str)
	}
	return nil
}

// Get fetches key; the bool reports whether it existed.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rep, err := c.roundTrip(ctx, "GET", keyPrefix+key)
	if err != nil {
		return nil, false, err
	}
	if rep.kind == replyNil {
		return nil, false, nil
	}
	if rep.kind != replyBulk {
		return nil, false, fmt.Errorf("redis: unexpected GET reply kind %c", rep.kind)
	}
	return rep.bulk, true, nil
}

// Delete removes the given keys; missing keys are not an error.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 1, len(keys)+1)
	args[0] = "DEL"
	for _, key := range keys {
		args = append(args, keyPrefix+key)
	}
	_, err := c.roundTrip(ctx, args...)
	return err
}

func (c *RedisClient) intCommand(ctx context.Context, args ...string) (int64, error) {
	rep, err := c.roundTrip(ctx, args...)
	if err != nil {
		return 0, err
	}
	switch rep.kind {
	case replyInt:
		return rep.n, nil
	case replyStatus:
		return strconv.ParseInt(rep.str, 10, 64)
	}
	return 0, fmt.Errorf("redis: expected integer reply, got kind %c", rep.kind)
}

// roundTrip serialises one command, writes it and reads one reply. Any I/O
// error drops the connection so the next command redials.
func (c *RedisClient) roundTrip(ctx context.Context, args ...string) (reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			return reply{}, err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.drop()
		return reply{}, err
	}

	if _, err := c.conn.Write(encodeCommand(args)); err != nil {
		c.drop()
		return reply{}, err
	}

	rep, err := readReply(c.rd)
	if err != nil {
		var srvErr serverError
		if errors.As(err, &srvErr) {
			// Server-side errors leave the connection healthy.
			return reply{}, err
		}
		c.drop()
		return reply{}, err
	}
	return rep, nil
}

func (c *RedisClient) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if c.cfg.TLS {
		conn, err = (&tls.Dialer{NetDialer: &net.Dialer{}}).DialContext(dialCtx, "tcp", c.cfg.Address)
	} else {
		conn, err = (&net.Dialer{}).DialContext(dialCtx, "tcp", c.cfg.Address)
	}
	if err != nil {
		return err
	}

	rd := bufio.NewReader(conn)
	if err := conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		conn.Close()
		return err
	}

	if err := handshake(conn, rd, c.cfg); err != nil {
		conn.Close()
		return err
	}

	// Per-command deadlines are set in roundTrip.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	c.conn, c.rd = conn, rd
	return nil
}

func (c *RedisClient) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.rd = nil, nil
}

// handshake authenticates and selects the configured database.
func handshake(conn net.Conn, rd *bufio.Reader, cfg RedisConfig) error {
	run := func(args ...string) error {
		if _, err := conn.Write(encodeCommand(args)); err != nil {
			return err
		}
		rep, err := readReply(rd)
		if err != nil {
			return err
		}
		if !rep.isStatus("OK") {
			return fmt.Errorf("redis: %s replied %q", args[0], rep.str)
		}
		return nil
	}

	if cfg.Password != "" || cfg.Username != "" {
		args := []string{"AUTH"}
		if cfg.Username != "" {
			args = append(args, cfg.Username)
		}
		args = append(args, cfg.Password)
		if err := run(args...); err != nil {
			return err
		}
	}
	if cfg.DB > 0 {
		if err := run("SELECT", strconv.Itoa(cfg.DB)); err != nil {
			return err
		}
	}
	return nil
}

const (
	replyStatus = '+'
	replyInt    = ':'
	replyBulk   = '$'
	replyArray  = '*'
	replyNil    = '0'
)

// reply is one decoded RESP value. Arrays only surface their element count;
// no command issued here needs the elements themselves.
type reply struct {
	kind byte
	str  string
	n    int64
	bulk []byte
}

func (r reply) isStatus(want string) bool {
	return r.kind == replyStatus && r.str == want
}

// serverError is an error reply (`-ERR …`) from the server.
type serverError string

func (e serverError) Error() string { return "redis: " + string(e) }

func encodeCommand(args []string) []byte {
	size := 16
	for _, a := range args {
		size += len(a) + 16
	}
	buf := make([]byte, 0, size)

	buf = append(buf, replyArray)
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, a := range args {
		buf = append(buf, replyBulk)
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, a...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

func readReply(rd *bufio.Reader) (reply, error) {
	kind, err := rd.ReadByte()
	if err != nil {
		return reply{}, err
	}

	line, err := readLine(rd)
	if err != nil {
		return reply{}, err
	}

	switch kind {
	case replyStatus:
		return reply{kind: replyStatus, str: line}, nil

	case '-':
		return reply{}, serverError(line)

	case replyInt:
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return reply{}, fmt.Errorf("redis: bad integer reply %q", line)
		}
		return reply{kind: replyInt, n: n}, nil

	case replyBulk:
		length, err := strconv.Atoi(line)
		if err != nil {
			return reply{}, fmt.Errorf("redis: bad bulk length %q", line)
		}
		if length < 0 {
			return reply{kind: replyNil}, nil
		}
		payload := make([]byte, length+2)
		if _, err := io.ReadFull(rd, payload); err != nil {
			return reply{}, err
		}
		if payload[length] != '\r' || payload[length+1] != '\n' {
			return reply{}, errors.New("redis: bulk reply missing terminator")
		}
		return reply{kind: replyBulk, bulk: payload[:length]}, nil

	case replyArray:
		count, err := strconv.Atoi(line)
		if err != nil {
			return reply{}, fmt.Errorf("redis: bad array length %q", line)
		}
		for i := 0; i < count; i++ {
			if _, err := readReply(rd); err != nil {
				return reply{}, err
			}
		}
		return reply{kind: replyArray, n: int64(count)}, nil
	}

	return reply{}, fmt.Errorf("redis: unknown reply prefix %q", kind)
}

func readLine(rd *bufio.Reader) (string, error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", errors.New("redis: malformed line terminator")
	}
	return line[:len(line)-2], nil
}

func millis(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}
