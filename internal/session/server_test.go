package session

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/olfacto/internal/hardware"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/san-kum/olfacto/internal/writer"
	"github.com/sirupsen/logrus/hooks/test"
)

type loopController struct {
	mu      sync.Mutex
	loop    *writer.Loop
	sink    *hardware.Simulated
	targets [][]float64
	reason  string
	closed  bool
}

func (c *loopController) SetTarget(conc []float64) error {
	c.mu.Lock()
	c.targets = append(c.targets, append([]float64(nil), conc...))
	c.mu.Unlock()
	f := rig.ZeroFrame(4, 3)
	f.Digital[0] = 1
	c.loop.Commit(f)
	return nil
}

func (c *loopController) Close(reason string) error {
	c.mu.Lock()
	c.closed = true
	c.reason = reason
	c.mu.Unlock()
	return c.loop.Stop()
}

func (c *loopController) Targets() [][]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]float64(nil), c.targets...)
}

func (c *loopController) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ = Describe("Server", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		server  *Server
		mu      sync.Mutex
		created []*loopController
		served  chan error
	)

	controllers := func() []*loopController {
		mu.Lock()
		defer mu.Unlock()
		return append([]*loopController(nil), created...)
	}

	dial := func() net.Conn {
		conn, err := net.Dial("tcp", server.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		return conn
	}

	closedByServer := func(conn net.Conn) func() bool {
		return func() bool {
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
			_, err := conn.Read(make([]byte, 1))
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return false
			}
			return err != nil
		}
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		created = nil
		log, _ := test.NewNullLogger()

		factory := func(sctx context.Context, id string, odorants []rig.Odorant) (Controller, error) {
			sink := hardware.NewSimulated(0)
			loop := writer.New(sink, time.Millisecond, rig.ZeroFrame(4, 3), log)
			go loop.Run(sctx)
			c := &loopController{loop: loop, sink: sink}
			mu.Lock()
			created = append(created, c)
			mu.Unlock()
			return c, nil
		}

		server = NewServer(Config{
			Addr:        "127.0.0.1:0",
			ByteOrder:   binary.LittleEndian,
			MaxChannels: 16,
			PollTimeout: 20 * time.Millisecond,
		}, factory, log)
		Expect(server.Listen()).To(Succeed())

		served = make(chan error, 1)
		go func() { served <- server.Serve(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(served).Should(Receive(BeNil()))
	})

	It("runs a session, suppresses duplicates and stops the writer on disconnect", func() {
		conn := dial()
		client := NewClient(conn, binary.LittleEndian)
		Expect(client.Configure([]rig.Odorant{{ID: 111, Dilution: 10}, {ID: 222, Dilution: 10}, {ID: 333, Dilution: 10}})).To(Succeed())
		Expect(client.Send([]float64{-7, -8, -9})).To(Succeed())
		Expect(client.Send([]float64{-7, -8, -9})).To(Succeed())

		Eventually(func() int { return len(controllers()) }).Should(Equal(1))
		ctrl := controllers()[0]
		Eventually(func() int { return len(ctrl.Targets()) }).Should(Equal(1))
		Consistently(func() int { return len(ctrl.Targets()) }, 100*time.Millisecond).Should(Equal(1))

		got := ctrl.Targets()[0]
		Expect(got[0]).To(BeNumerically("~", 1e-7, 1e-19))
		Expect(got[1]).To(BeNumerically("~", 1e-8, 1e-20))
		Expect(got[2]).To(BeNumerically("~", 1e-9, 1e-21))
		Expect(server.Status().Targets).To(Equal(1))

		Expect(conn.Close()).To(Succeed())

		Eventually(ctrl.Closed).Should(BeTrue())
		Eventually(ctrl.loop.State).Should(Equal(writer.Stopped))
		last, ok := ctrl.sink.Last()
		Expect(ok).To(BeTrue())
		Expect(last.IsZero()).To(BeTrue())
		Eventually(func() Phase { return server.Status().Phase }).Should(Equal(Terminated))
	})

	It("refuses a second client while a session is active", func() {
		first := dial()
		defer first.Close()
		Expect(NewClient(first, binary.LittleEndian).Configure([]rig.Odorant{{ID: 1, Dilution: 1}})).To(Succeed())
		Eventually(func() int { return len(controllers()) }).Should(Equal(1))

		second := dial()
		defer second.Close()
		Eventually(closedByServer(second)).Should(BeTrue())
		Expect(server.Status().Refused).To(Equal(1))
		Expect(controllers()[0].Closed()).To(BeFalse())
	})

	It("accepts the next client after a session ends", func() {
		first := dial()
		Expect(NewClient(first, binary.LittleEndian).Configure([]rig.Odorant{{ID: 1, Dilution: 1}})).To(Succeed())
		Eventually(func() int { return len(controllers()) }).Should(Equal(1))
		Expect(first.Close()).To(Succeed())
		Eventually(controllers()[0].Closed).Should(BeTrue())

		second := dial()
		defer second.Close()
		Expect(NewClient(second, binary.LittleEndian).Configure([]rig.Odorant{{ID: 2, Dilution: 1}})).To(Succeed())
		Eventually(func() int { return len(controllers()) }).Should(Equal(2))
		Expect(server.Status().Sessions).To(Equal(2))
	})

	It("terminates the session on a framing error", func() {
		conn := dial()
		defer conn.Close()
		bad := make([]byte, 4)
		binary.LittleEndian.PutUint32(bad, 0)
		_, err := conn.Write(bad)
		Expect(err).NotTo(HaveOccurred())

		Eventually(closedByServer(conn)).Should(BeTrue())
		Expect(controllers()).To(BeEmpty())
		Eventually(func() string { return server.Status().LastError }).Should(ContainSubstring("framing"))
	})

	It("maps overflowing components to zero", func() {
		conn := dial()
		defer conn.Close()
		client := NewClient(conn, binary.LittleEndian)
		Expect(client.Configure([]rig.Odorant{{ID: 1, Dilution: 1}, {ID: 2, Dilution: 1}})).To(Succeed())
		Expect(client.Send([]float64{400, -6})).To(Succeed())

		Eventually(func() int { return len(controllers()) }).Should(Equal(1))
		ctrl := controllers()[0]
		Eventually(func() int { return len(ctrl.Targets()) }).Should(Equal(1))
		Expect(ctrl.Targets()[0][0]).To(BeZero())
		Expect(ctrl.Targets()[0][1]).To(BeNumerically("~", 1e-6, 1e-18))
	})

	It("closes the active session on shutdown", func() {
		conn := dial()
		defer conn.Close()
		Expect(NewClient(conn, binary.LittleEndian).Configure([]rig.Odorant{{ID: 1, Dilution: 1}})).To(Succeed())
		Eventually(func() int { return len(controllers()) }).Should(Equal(1))

		cancel()
		Eventually(controllers()[0].loop.State).Should(Equal(writer.Stopped))
	})
})
