package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/sirupsen/logrus"
)

// Controller receives the targets of one session.
type Controller interface {
	SetTarget(concentrations []float64) error
	Close(reason string) error
}

// Factory builds the controller for a session once its odorants are known.
// ctx is canceled when the session ends.
type Factory func(ctx context.Context, id string, odorants []rig.Odorant) (Controller, error)

type Config struct {
	Addr        string
	ByteOrder   binary.ByteOrder
	MaxChannels int
	PollTimeout time.Duration
	ReadTimeout time.Duration
}

type Status struct {
	SessionID string
	Phase     Phase
	Peer      string
	Sessions  int
	Refused   int
	Targets   int
	LastError string
}

type Server struct {
	cfg     Config
	factory Factory
	log     logrus.FieldLogger

	ln net.Listener

	mu     sync.Mutex
	status Status
}

func NewServer(cfg Config, factory Factory, log logrus.FieldLogger) *Server {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = rig.MaxChannels
	}
	return &Server{cfg: cfg, factory: factory, log: log, status: Status{Phase: Terminated}}
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Server) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

type readResult struct {
	data []byte
	err  error
}

type conn struct {
	id         string
	nc         net.Conn
	machine    *Machine
	controller Controller
	msgs       chan readResult
	next       chan int
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	log        logrus.FieldLogger
}

// Serve accepts one client at a time until ctx is canceled. The loop wakes
// at least every PollTimeout.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.WithField("addr", s.ln.Addr().String()).Info("listening")

	accepts := make(chan net.Conn)
	go s.acceptLoop(ctx, accepts)

	ticker := time.NewTicker(s.cfg.PollTimeout)
	defer ticker.Stop()

	var active *conn
	for {
		var msgs chan readResult
		if active != nil {
			msgs = active.msgs
		}

		select {
		case <-ctx.Done():
			if active != nil {
				s.terminate(active, "server shutdown", nil)
			}
			_ = s.ln.Close()
			return nil

		case nc := <-accepts:
			if active != nil {
				s.log.WithField("peer", nc.RemoteAddr().String()).Warn("session already active, refusing connection")
				_ = nc.Close()
				s.update(func(st *Status) { st.Refused++ })
				continue
			}
			active = s.open(ctx, nc)

		case res := <-msgs:
			if res.err != nil {
				err := fmt.Errorf("%w: %v", rig.ErrTransportDisconnect, res.err)
				s.terminate(active, "client disconnected", err)
				active = nil
				continue
			}
			if err := s.handle(active, res.data); err != nil {
				s.terminate(active, "protocol error", err)
				active = nil
				continue
			}
			active.next <- active.machine.Expect()

		case <-ticker.C:
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, out chan<- net.Conn) {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		select {
		case out <- nc:
		case <-ctx.Done():
			_ = nc.Close()
			return
		}
	}
}

func (s *Server) open(ctx context.Context, nc net.Conn) *conn {
	sessCtx, cancel := context.WithCancel(ctx)
	c := &conn{
		id:      uuid.NewString(),
		nc:      nc,
		machine: NewMachine(s.cfg.ByteOrder, s.cfg.MaxChannels),
		msgs:    make(chan readResult),
		next:    make(chan int, 1),
		done:    make(chan struct{}),
		ctx:     sessCtx,
		cancel:  cancel,
	}
	c.log = s.log.WithFields(logrus.Fields{"session": c.id, "peer": nc.RemoteAddr().String()})
	c.log.Info("client connected")

	s.update(func(st *Status) {
		st.SessionID = c.id
		st.Peer = nc.RemoteAddr().String()
		st.Phase = c.machine.Phase()
		st.Sessions++
		st.Targets = 0
	})

	go s.read(sessCtx, c, c.machine.Expect())
	return c
}

// read pulls exactly one message at a time. The serve loop replies with the
// size of the following message once it has been handled.
func (s *Server) read(ctx context.Context, c *conn, size int) {
	for size > 0 {
		if s.cfg.ReadTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		buf := make([]byte, size)
		_, err := io.ReadFull(c.nc, buf)

		select {
		case c.msgs <- readResult{data: buf, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case size = <-c.next:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handle(c *conn, data []byte) error {
	ev, err := c.machine.Feed(data)
	if err != nil {
		return err
	}
	s.update(func(st *Status) { st.Phase = c.machine.Phase() })

	switch ev.Kind {
	case EventConfigured:
		ctrl, err := s.factory(c.ctx, c.id, ev.Odorants)
		if err != nil {
			return err
		}
		c.controller = ctrl
		c.log.WithField("odorants", len(ev.Odorants)).Info("session configured")

	case EventTarget:
		for _, i := range ev.Overflowed {
			c.log.WithField("component", i).Warn(rig.ErrConcentrationOverflow.Error())
		}
		if err := c.controller.SetTarget(ev.Concentrations); err != nil {
			c.log.WithError(err).Warn("target rejected")
			return nil
		}
		s.update(func(st *Status) { st.Targets++ })

	case EventDuplicate:
		c.log.Debug("duplicate target suppressed")
	}
	return nil
}

// terminate closes the connection, stops the session's controller and
// releases its context. It is called from the serve loop only.
func (s *Server) terminate(c *conn, reason string, cause error) {
	phase := c.machine.Phase()
	c.machine.Terminate()
	close(c.done)
	_ = c.nc.Close()

	entry := c.log.WithField("reason", reason)
	var lastErr string
	if cause != nil {
		serr := &SessionError{SessionID: c.id, Phase: phase, Wrapped: cause}
		lastErr = serr.Error()
		entry = entry.WithError(serr)
	}

	if c.controller != nil {
		if err := c.controller.Close(reason); err != nil {
			entry.WithField("close_error", err.Error()).Warn("controller close failed")
		}
	}
	c.cancel()

	if cause != nil && !errors.Is(cause, rig.ErrTransportDisconnect) {
		entry.Warn("session terminated")
	} else {
		entry.Info("session terminated")
	}

	s.update(func(st *Status) {
		st.Phase = Terminated
		st.LastError = lastErr
	})
}
