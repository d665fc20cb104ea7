package tftpd

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pin/tftp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rangerd/services/dhcpd/internal/config"
)

var filesServed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rangerd_tftp_files_served_total",
	Help: "Boot files handed out over TFTP.",
})

// Server is the read-only boot file service. It never touches DHCP reply
// contents; clients that want a boot image are told out of band.
type Server struct {
	cfg    config.TFTPConfig
	logger *log.Logger
}

func NewServer(cfg config.TFTPConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

func (s *Server) Run(ctx context.Context, ready *atomic.Bool) error {
	srv := tftp.NewServer(s.readHandler, nil)
	srv.SetTimeout(time.Duration(s.cfg.TimeoutSeconds) * time.Second)

	addr := s.cfg.Address
	if addr == "" {
		addr = ":69"
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.logger.Printf("INFO tftp listening on %s, root %s", conn.LocalAddr(), s.cfg.RootDir)
	ready.Store(true)

	done := make(chan struct{})
	go func() {
		srv.Serve(conn)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		srv.Shutdown()
		<-done
		return nil
	}
}

func (s *Server) readHandler(filename string, rf io.ReaderFrom) error {
	path, err := s.resolve(filename)
	if err != nil {
		s.logger.Printf("WARN refuse tftp read %q: %v", filename, err)
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := rf.ReadFrom(f); err != nil {
		return err
	}
	filesServed.Inc()
	s.logger.Printf("INFO served %s via TFTP", filename)
	return nil
}

// resolve maps a request name onto the root directory. Names that climb out
// of the root are rejected.
func (s *Server) resolve(filename string) (string, error) {
	clean := filepath.Clean("/" + strings.ReplaceAll(filename, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("empty filename")
	}
	path := filepath.Join(s.cfg.RootDir, clean)
	root := filepath.Clean(s.cfg.RootDir)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("filename escapes root")
	}
	return path, nil
}
