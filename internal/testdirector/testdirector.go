// Package testdirector is a scripted director for tests. It speaks the
// director side of the login exchange and hands every command to a
// Handler.
package testdirector

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/codewiresh/dcon/internal/auth"
	"github.com/codewiresh/dcon/internal/protocol"
)

// Handler answers one command.
type Handler func(cmd string, r *Responder) error

// Config scripts the director.
type Config struct {
	Name     string // director name, default "bareos-dir"
	Version  string // default "23.0.1"
	Password string // console password, clear text

	// AnswerPassword, when set, is used to answer the console's challenge
	// instead of Password, simulating an impostor director.
	AnswerPassword string

	Compatible      bool // advertise cram-md5c
	TLS             protocol.TLSNeed
	TLSConfig       *tls.Config // server side
	ImmediateTLS    bool        // expect TLS before the hello line
	RecordSeparated bool        // newer numbered message format

	PAMUsername string // require PAM when set
	PAMPassword string

	Handler Handler
}

// Director serves console connections.
type Director struct {
	cfg Config

	mu       sync.Mutex
	commands []string
	consoles []string
	errs     []error
}

// New creates a director with defaults filled in.
func New(cfg Config) *Director {
	if cfg.Name == "" {
		cfg.Name = "bareos-dir"
	}
	if cfg.Version == "" {
		cfg.Version = "23.0.1"
	}
	return &Director{cfg: cfg}
}

// Pipe serves one in-memory connection and returns the console end.
func (d *Director) Pipe(t testing.TB) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		d.record(d.Serve(server))
	}()
	t.Cleanup(func() {
		client.Close()
		<-done
	})
	return client
}

// Listen serves TCP connections on a loopback port until the test ends.
func (d *Director) Listen(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				d.record(d.Serve(conn))
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})
	return ln.Addr().String()
}

// Commands returns every command received so far.
func (d *Director) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Consoles returns the console names that said hello.
func (d *Director) Consoles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.consoles...)
}

// Errors returns the errors that ended connections, excluding clean
// disconnects.
func (d *Director) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

func (d *Director) record(err error) {
	if err == nil || errors.Is(err, protocol.ErrConnectionClosed) {
		return
	}
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

// Serve runs the login exchange and the command loop on conn.
func (d *Director) Serve(conn net.Conn) error {
	if d.cfg.ImmediateTLS {
		conn = tls.Server(conn, d.cfg.TLSConfig)
	}
	r := &Responder{conn: conn}
	if err := d.login(r); err != nil {
		return err
	}

	for {
		p, err := r.Read()
		if err != nil {
			return err
		}
		if p.Kind == protocol.KindSignal {
			if p.Signal == protocol.SignalTerminate {
				return nil
			}
			continue
		}
		cmd := strings.TrimRight(p.Text(), "\n")

		d.mu.Lock()
		d.commands = append(d.commands, cmd)
		d.mu.Unlock()

		if level, ok := strings.CutPrefix(cmd, ".api "); ok {
			n, _ := strconv.Atoi(strings.Fields(level)[0])
			r.Level = protocol.APILevel(n)
			if r.Level.IsJSON() {
				_ = r.Text(fmt.Sprintf(`{"jsonrpc":"2.0","id":null,"result":{"api":%d}}`, n))
			}
			if err := r.End(); err != nil {
				return err
			}
			continue
		}

		if d.cfg.Handler == nil {
			if err := r.End(); err != nil {
				return err
			}
			continue
		}
		if err := d.cfg.Handler(cmd, r); err != nil {
			return err
		}
	}
}

func (d *Director) login(r *Responder) error {
	hello, err := r.ReadText()
	if err != nil {
		return err
	}
	var name string
	if _, err := fmt.Sscanf(hello, "Hello %s calling", &name); err != nil {
		return fmt.Errorf("bad hello %q", hello)
	}
	name = protocol.UnbashSpaces(name)
	d.mu.Lock()
	d.consoles = append(d.consoles, name)
	d.mu.Unlock()

	key := auth.PasswordKey(d.cfg.Password)

	ours := protocol.Challenge{Value: "<1804289383.1700000000@" + d.cfg.Name + ">", TLS: d.cfg.TLS, Compatible: d.cfg.Compatible}
	if err := r.Text(ours.Line()); err != nil {
		return err
	}
	answer, err := r.ReadText()
	if err != nil {
		return err
	}
	if answer != auth.Response(ours.Value, key, ours.Compatible) {
		_ = r.Text(protocol.AuthFailed)
		return fmt.Errorf("console %q failed the challenge", name)
	}
	if err := r.Text(protocol.AuthOK); err != nil {
		return err
	}

	line, err := r.ReadText()
	if err != nil {
		return err
	}
	theirs, err := protocol.ParseChallenge(line)
	if err != nil {
		return err
	}
	answerKey := key
	if d.cfg.AnswerPassword != "" {
		answerKey = auth.PasswordKey(d.cfg.AnswerPassword)
	}
	if err := r.Text(auth.Respond(theirs, answerKey)); err != nil {
		return err
	}
	verdict, err := r.ReadText()
	if err != nil {
		return err
	}
	if verdict != protocol.AuthOK {
		return fmt.Errorf("console rejected us: %q", verdict)
	}

	if d.cfg.TLS >= protocol.TLSOK && theirs.TLS >= protocol.TLSOK && d.cfg.TLSConfig != nil {
		if _, already := r.conn.(*tls.Conn); !already {
			tc := tls.Server(r.conn, d.cfg.TLSConfig)
			if err := tc.Handshake(); err != nil {
				return err
			}
			r.conn = tc
		}
	}

	if d.cfg.PAMUsername != "" {
		if err := r.Text(protocol.FormatMessage(protocol.MsgPAMRequired, "PAM authentication required")); err != nil {
			return err
		}
		line, err := r.ReadText()
		if err != nil {
			return err
		}
		msg, err := protocol.ParseMessage(line)
		if err != nil {
			return err
		}
		if msg.ID != protocol.MsgPAMUserCredentials || len(msg.Args) != 2 ||
			msg.Args[0] != d.cfg.PAMUsername || msg.Args[1] != d.cfg.PAMPassword {
			_ = r.Text(protocol.FormatMessage(protocol.MsgRejected, "PAM authentication failed"))
			return fmt.Errorf("PAM credentials rejected")
		}
	}

	greeting := fmt.Sprintf("OK: %s Version: %s (17 December 2023)", d.cfg.Name, d.cfg.Version)
	if d.cfg.RecordSeparated {
		return r.Text(protocol.FormatMessage(protocol.MsgOK, greeting))
	}
	return r.Text(fmt.Sprintf("%d %s\n", protocol.MsgOK, greeting))
}

// Responder writes one command's response.
type Responder struct {
	conn  net.Conn
	Level protocol.APILevel
}

// Text sends a data packet.
func (r *Responder) Text(s string) error { return protocol.WriteString(r.conn, s) }

// Signal sends a signal packet.
func (r *Responder) Signal(sig protocol.Signal) error { return protocol.WriteSignal(r.conn, sig) }

// End terminates the response the way the director does at the current
// API level.
func (r *Responder) End() error {
	if err := r.Signal(protocol.SignalEOD); err != nil {
		return err
	}
	if r.Level == protocol.APIJSONMeta {
		return r.Signal(protocol.SignalMainPrompt)
	}
	return nil
}

// Read reads the next packet from the console.
func (r *Responder) Read() (*protocol.Packet, error) { return protocol.ReadPacket(r.conn) }

// ReadText reads the next packet and requires it to carry data.
func (r *Responder) ReadText() (string, error) {
	p, err := r.Read()
	if err != nil {
		return "", err
	}
	if p.Kind != protocol.KindData {
		return "", fmt.Errorf("expected data, got %s", p.Kind)
	}
	return p.Text(), nil
}

// Close drops the connection, simulating a director crash.
func (r *Responder) Close() error { return r.conn.Close() }
