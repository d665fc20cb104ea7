package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"

	"rangerd/pkg/dhcpwire"
	"rangerd/services/dhcpd/internal/engine"
)

// maxDatagram bounds one read. DHCP packets fit comfortably inside a
// standard ethernet MTU.
const maxDatagram = 1500

var decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rangerd_dhcp_decode_failures_total",
	Help: "Datagrams dropped because BOOTP decoding failed.",
})

// Server owns one UDP socket and feeds decoded packets to the engine.
// Replies go to the limited broadcast address since clients usually have no
// routable address yet.
type Server struct {
	addr   string
	engine *engine.Engine
	logger *log.Logger
}

func New(addr string, eng *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{addr: addr, engine: eng, logger: logger}
}

// Run serves the socket until ctx is canceled or the socket fails. Each
// datagram is handled on its own goroutine so one slow store call never
// stalls the read loop.
func (s *Server) Run(ctx context.Context, ready *atomic.Bool) error {
	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.logger.Printf("INFO dhcp listening on %s", pc.LocalAddr())
	ready.Store(true)

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	local := localIP(pc)
	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read on %s: %w", s.addr, err)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go s.serve(pc, peer, local, data)
	}
}

func (s *Server) serve(pc net.PacketConn, peer net.Addr, local net.IP, data []byte) {
	req, err := dhcpwire.FromBytes(data)
	if err != nil {
		decodeFailures.Inc()
		s.logger.Printf("WARN drop %d bytes from %s: %v", len(data), peer, err)
		return
	}

	// In-flight exchanges run on their own context and finish even while
	// the daemon is shutting down.
	reply := s.engine.Handle(context.Background(), req, local)
	if reply == nil {
		return
	}

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
	if _, err := pc.WriteTo(reply.ToBytes(), dst); err != nil {
		s.logger.Printf("ERROR send reply to %s: %v", reply.CHAddr, err)
	}
}

// enableBroadcast is the ListenConfig control hook that sets SO_BROADCAST
// before bind, so replies to 255.255.255.255 are permitted.
func enableBroadcast(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// localIP reports the unicast address the socket is bound to, or nil when
// bound to the wildcard. The engine uses it to resolve the serving subnet.
func localIP(pc net.PacketConn) net.IP {
	ua, ok := pc.LocalAddr().(*net.UDPAddr)
	if !ok || ua.IP == nil || ua.IP.IsUnspecified() {
		return nil
	}
	return ua.IP.To4()
}
