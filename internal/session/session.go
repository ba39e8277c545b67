// Package session runs console commands over an authenticated director
// connection. A Session carries exactly one command at a time; any
// transport failure or timeout in the middle of a command leaves the
// stream position unknown, so the session is marked unusable and the
// caller has to open a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codewiresh/dcon/internal/auth"
	"github.com/codewiresh/dcon/internal/connection"
	"github.com/codewiresh/dcon/internal/decoder"
	"github.com/codewiresh/dcon/internal/protocol"
)

const (
	DefaultHandshakeTimeout   = 30 * time.Second
	DefaultCommandTimeout     = 60 * time.Second
	DefaultLongCommandTimeout = 10 * time.Minute
	DefaultMaxCommandPacket   = 4000
)

// DefaultLongCommands are verbs that routinely outlive DefaultCommandTimeout.
var DefaultLongCommands = []string{
	"run", "restore", "estimate", "wait", "label", "relabel", "update",
	"prune", "purge", "truncate", "reload", "status", ".bvfs_update",
}

// PromptFunc answers a director prompt. text is the output received since
// the previous prompt, usually the question itself.
type PromptFunc func(ctx context.Context, text string, sig protocol.Signal) (string, error)

// DialFunc opens the transport. Tests substitute in-memory pipes.
type DialFunc func(ctx context.Context, opts connection.Options) (*connection.Conn, error)

// Options tunes a Session. The zero value is usable.
type Options struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	CommandTimeout     time.Duration
	LongCommandTimeout time.Duration
	LongCommands       []string

	// MaxCommandPacket splits long command lines into several data
	// packets of at most this many bytes.
	MaxCommandPacket int
	// MaxPacketSize caps a single incoming payload.
	MaxPacketSize int

	Prompt   PromptFunc
	Observer Observer
	Logger   *zerolog.Logger
	Dial     DialFunc
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.LongCommandTimeout <= 0 {
		o.LongCommandTimeout = DefaultLongCommandTimeout
	}
	if o.LongCommands == nil {
		o.LongCommands = DefaultLongCommands
	}
	if o.MaxCommandPacket <= 0 {
		o.MaxCommandPacket = DefaultMaxCommandPacket
	}
	if o.Prompt == nil {
		o.Prompt = func(context.Context, string, protocol.Signal) (string, error) { return "", nil }
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = &log.Logger
	}
	if o.Dial == nil {
		o.Dial = connection.Dial
	}
	return o
}

func (o Options) timeoutFor(verb string) time.Duration {
	if slices.Contains(o.LongCommands, verb) {
		return o.LongCommandTimeout
	}
	return o.CommandTimeout
}

// Session is one console login. Create it with New or Open.
type Session struct {
	id   string
	cfg  ConnectionConfig
	opts Options
	log  zerolog.Logger

	busy atomic.Bool

	mu     sync.Mutex
	conn   *connection.Conn
	info   *auth.Result
	level  protocol.APILevel
	closed bool
	dead   error
}

// New creates an unconnected session.
func New(cfg ConnectionConfig, opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:   id,
		cfg:  cfg,
		opts: opts,
		log:  opts.Logger.With().Str("session", id).Str("director", cfg.Address()).Logger(),
	}
}

// Open creates a session and logs in.
func Open(ctx context.Context, cfg ConnectionConfig, opts Options) (*Session, error) {
	s := New(cfg, opts)
	if err := s.ConnectAndAuthenticate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session was created with.
func (s *Session) Config() ConnectionConfig { return s.cfg }

// Director returns what the director said about itself at login, or nil
// before authentication.
func (s *Session) Director() *auth.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// APILevel returns the current response format.
func (s *Session) APILevel() protocol.APILevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// IsConnected reports whether the transport is open and usable.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.dead == nil
}

// IsAuthenticated reports whether commands may be sent.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.dead == nil && s.info != nil
}

// Err returns the failure that made the session unusable, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

// ConnectAndAuthenticate dials the director and logs in, then selects the
// configured catalog and API level. On failure the session is unusable.
func (s *Session) ConnectAndAuthenticate(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.acquire(); err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case s.dead != nil:
		err := fmt.Errorf("%w: %w", ErrSessionUnusable, s.dead)
		s.mu.Unlock()
		s.release()
		return err
	case s.closed:
		s.mu.Unlock()
		s.release()
		return fmt.Errorf("%w: session closed", ErrSessionUnusable)
	case s.conn != nil:
		s.mu.Unlock()
		s.release()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	start := time.Now()
	conn, res, err := s.login(ctx)
	ev := HandshakeEvent{Director: s.cfg.Address(), Duration: time.Since(start), Err: err}
	if res != nil {
		ev.TLS = conn.IsTLS()
		ev.PAM = res.PAM
	}
	s.opts.Observer.HandshakeDone(ev)

	if err != nil {
		s.markDead(err)
		s.release()
		s.log.Warn().Err(err).Msg("login failed")
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.info = res
	s.level = protocol.APIText
	s.mu.Unlock()
	s.release()

	s.log.Info().
		Str("name", res.Director).
		Str("version", res.Version).
		Bool("tls", conn.IsTLS()).
		Bool("pam", res.PAM).
		Dur("took", ev.Duration).
		Msg("authenticated")

	if s.cfg.Catalog != "" {
		res, err := s.SendCommand(ctx, "use "+protocol.Arg("catalog", s.cfg.Catalog))
		if err == nil && res.IsError {
			err = fmt.Errorf("%w: selecting catalog %q: %s", ErrCommandFailed, s.cfg.Catalog, res.ErrorMessage)
		}
		if err != nil {
			_ = s.Disconnect()
			return err
		}
	}
	if s.cfg.InitialAPILevel != protocol.APIText {
		if err := s.SetAPIMode(ctx, s.cfg.InitialAPILevel); err != nil {
			_ = s.Disconnect()
			return err
		}
	}
	return nil
}

func (s *Session) login(ctx context.Context) (*connection.Conn, *auth.Result, error) {
	tlsCfg, err := s.cfg.tlsConfig()
	if err != nil {
		return nil, nil, err
	}

	dopts := connection.Options{
		Address:        s.cfg.Address(),
		ConnectTimeout: s.opts.ConnectTimeout,
		MaxPacketSize:  s.opts.MaxPacketSize,
	}
	if tlsCfg != nil && s.cfg.tlsMode() == TLSImmediate {
		dopts.TLS = tlsCfg
	}
	conn, err := s.opts.Dial(ctx, dopts)
	if err != nil {
		return nil, nil, err
	}

	deadline := time.Now().Add(s.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := interruptOnDone(ctx, conn)
	res, err := auth.Handshake(ctx, conn, s.cfg.credentials(tlsCfg))
	stop()

	if err != nil {
		_ = conn.Close()
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("logging in to %s: %w", s.cfg.Address(), ctx.Err())
		case connection.IsTimeout(err):
			err = fmt.Errorf("%w: login to %s timed out: %w", ErrConnection, s.cfg.Address(), err)
		}
		return nil, nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, res, nil
}

// SetAPIMode switches the response format and consumes the director's
// acknowledgement.
func (s *Session) SetAPIMode(ctx context.Context, level protocol.APILevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidAPILevel, level)
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	conn, _, err := s.current()
	if err != nil {
		return err
	}
	res, err := s.roundTrip(ctx, conn, level.Command(), level)
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("%w: %s: %s", ErrCommandFailed, level.Command(), res.ErrorMessage)
	}

	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
	s.log.Debug().Int("api", int(level)).Msg("api mode set")
	return nil
}

// SendCommand sends one command line and reads the complete response.
//
// A director-side failure is reported through CommandResult.IsError with a
// nil error. A non-nil error means the exchange itself failed; the session
// is then unusable and the result, when not nil, is flagged as an error.
func (s *Session) SendCommand(ctx context.Context, line string) (*CommandResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	conn, level, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, conn, line, level)
}

// Disconnect says goodbye and closes the transport. It is always safe to
// call, including on a session that never connected or already failed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.closed = true
	dead := s.dead
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	// Skip the goodbye when another goroutine owns the stream.
	if dead == nil && !s.busy.Load() {
		_ = conn.SetDeadline(time.Now().Add(time.Second))
		_ = conn.WriteSignal(protocol.SignalTerminate)
	}
	err := conn.Close()
	s.log.Debug().Msg("disconnected")
	return err
}

func (s *Session) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrCommandInFlight
	}
	return nil
}

func (s *Session) release() { s.busy.Store(false) }

func (s *Session) current() (*connection.Conn, protocol.APILevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.dead != nil:
		return nil, 0, fmt.Errorf("%w: %w", ErrSessionUnusable, s.dead)
	case s.conn == nil:
		return nil, 0, ErrNotConnected
	}
	return s.conn, s.level, nil
}

// markDead records the first fatal error and drops the transport.
func (s *Session) markDead(err error) {
	s.mu.Lock()
	if s.dead == nil {
		s.dead = err
	}
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) roundTrip(ctx context.Context, conn *connection.Conn, line string, level protocol.APILevel) (*CommandResult, error) {
	verb := protocol.Verb(line)
	timeout := s.opts.timeoutFor(verb)
	start := time.Now()

	deadline := start.Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := interruptOnDone(ctx, conn)

	res := &CommandResult{Command: line, APILevel: level}
	err := s.exchange(ctx, conn, line, res)
	stop()

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: %s: %w", ErrCommandTimeout, verb, ctx.Err())
		case ctx.Err() != nil:
			err = fmt.Errorf("%s: %w", verb, ctx.Err())
		case connection.IsTimeout(err):
			err = fmt.Errorf("%w: %s got no reply within %s", ErrCommandTimeout, verb, timeout)
		}
		res.IsError = true
		res.ErrorMessage = err.Error()
		s.markDead(err)
		s.log.Warn().Err(err).Str("verb", verb).Msg("command failed, session unusable")
	} else {
		_ = conn.SetDeadline(time.Time{})
		res.Decoded = decoded(res)
	}

	took := time.Since(start)
	s.opts.Observer.CommandDone(CommandEvent{
		Director: s.cfg.Address(),
		Command:  line,
		Verb:     verb,
		APILevel: level,
		Start:    start,
		Duration: took,
		Bytes:    len(res.RawText),
		IsError:  res.IsError,
		Message:  res.ErrorMessage,
		Err:      err,
	})
	s.log.Debug().
		Str("verb", verb).
		Int("api", int(level)).
		Int("bytes", len(res.RawText)).
		Bool("is_error", res.IsError).
		Dur("took", took).
		Msg("command")
	return res, err
}

// exchange writes the command and collects packets until the director
// signals the end of the response.
func (s *Session) exchange(ctx context.Context, conn *connection.Conn, line string, res *CommandResult) error {
	for _, chunk := range splitCommand(line, s.opts.MaxCommandPacket) {
		if err := conn.WritePacket(chunk); err != nil {
			return fmt.Errorf("sending command: %w", err)
		}
	}

	var buf strings.Builder
	asked := 0   // output already shown with a prompt
	failed := -1 // output offset where an error signal arrived
	done := func() error {
		res.RawText = buf.String()
		if res.IsError {
			msg := strings.TrimSpace(res.RawText[failed:])
			if msg == "" {
				msg = strings.TrimSpace(res.RawText)
			}
			res.ErrorMessage = msg
		}
		return nil
	}

	for {
		p, err := conn.ReadPacket()
		if err != nil {
			return err
		}
		switch p.Kind {
		case protocol.KindData:
			buf.Write(p.Payload)
			continue
		case protocol.KindEndOfMessage:
			return done()
		}

		switch sig := p.Signal; {
		case sig == protocol.SignalMainPrompt:
			// A main prompt left over from API level 2 may precede the
			// reply at the lower levels.
			if res.APILevel != protocol.APIJSONMeta && buf.Len() == 0 && !res.IsError {
				continue
			}
			return done()
		case sig == protocol.SignalEOD:
			if res.APILevel != protocol.APIJSONMeta {
				return done()
			}
		case sig == protocol.SignalTerminate:
			return fmt.Errorf("%w: director terminated the session", protocol.ErrConnectionClosed)
		case sig == protocol.SignalHeartbeat:
			if err := conn.WriteSignal(protocol.SignalHBResponse); err != nil {
				return err
			}
		case sig.IsPrompt():
			text := buf.String()[asked:]
			asked = buf.Len()
			answer, err := s.opts.Prompt(ctx, text, sig)
			if err != nil {
				return fmt.Errorf("answering %s: %w", sig, err)
			}
			if err := conn.WritePacket([]byte(answer)); err != nil {
				return err
			}
		case sig.IsError():
			res.IsError = true
			if failed < 0 {
				failed = buf.Len()
			}
		default:
			s.log.Trace().Stringer("signal", sig).Msg("ignoring signal")
		}
	}
}

func decoded(res *CommandResult) any {
	if !res.APILevel.IsJSON() {
		return res.RawText
	}
	v, err := decoder.Decode(res.RawText, res.APILevel, "")
	if err != nil {
		return nil
	}
	return v
}

// interruptOnDone unblocks conn when ctx ends. The returned stop waits for
// the watcher so a late interrupt cannot hit the next command.
func interruptOnDone(ctx context.Context, conn *connection.Conn) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Interrupt()
		case <-quit:
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

// splitCommand cuts line into chunks of at most limit bytes without
// splitting a UTF-8 sequence.
func splitCommand(line string, limit int) [][]byte {
	if limit <= 0 || len(line) <= limit {
		return [][]byte{[]byte(line)}
	}
	var out [][]byte
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		out = append(out, []byte(line[:cut]))
		line = line[cut:]
	}
	if line != "" {
		out = append(out, []byte(line))
	}
	return out
}
