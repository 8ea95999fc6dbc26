package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"extvfs/internal/cache"
	"extvfs/internal/util"
	"extvfs/internal/vfs"
)

// NFSServer wraps the go-nfs server
type NFSServer struct {
	mu       sync.Mutex
	listener net.Listener
	server   *nfs.Server
	handler  nfs.Handler
	adapter  *BillyAdapter
	attrs    *cache.AttrCache
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewNFSServer creates a new NFS server exporting the given VFS
func NewNFSServer(v *vfs.VFS, settings *Settings) *NFSServer {
	// Set go-nfs log level to match our log level
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}

	attrs := cache.NewAttrCache(
		time.Duration(settings.AttrCacheTTLMs)*time.Millisecond,
		settings.AttrCacheSize,
	)
	adapter := NewBillyAdapter(v, attrs)
	handler := nfshelper.NewNullAuthHandler(adapter)
	cacheHelper := nfshelper.NewCachingHandler(handler, settings.HandleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	server := &nfs.Server{
		Handler: cacheHelper,
		Context: ctx,
	}

	return &NFSServer{
		server:  server,
		handler: cacheHelper,
		adapter: adapter,
		attrs:   attrs,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Serve starts the NFS server on addr and blocks until shutdown
func (s *NFSServer) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Infof("[NFS] Exporting / on %s", listener.Addr())
	return s.server.Serve(listener)
}

// Addr returns the bound listen address, or nil before Serve has opened
// its listener. Callers binding port 0 poll it to learn the picked port.
func (s *NFSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WaitReady blocks until the server accepts TCP connections on its bound
// address, or the timeout elapses.
func (s *NFSServer) WaitReady(ctx context.Context, timeout time.Duration) error {
	return util.PollUntil(ctx, timeout, 50*time.Millisecond, func() bool {
		addr := s.Addr()
		if addr == nil {
			return false
		}
		conn, err := net.DialTimeout("tcp", addr.String(), 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
}

// Shutdown stops the NFS server gracefully
func (s *NFSServer) Shutdown() {
	// Close the listener first to stop accepting new connections
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}

	// Settle time for in-flight NFS operations to drain after the
	// listener closes.
	time.Sleep(100 * time.Millisecond)

	// Cancel context to signal handlers to stop
	if s.cancel != nil {
		s.cancel()
	}

	// Cached attributes die with the export.
	s.attrs.Invalidate()

	close(s.done)
}

// Done is closed once Shutdown has completed
func (s *NFSServer) Done() <-chan struct{} {
	return s.done
}
