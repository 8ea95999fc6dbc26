// Copyright 2026 ExtVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"extvfs/internal/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve <image>",
	Short: "Export an image read-only over NFS",
	Long: `Mounts an ext4 image and exports its root over NFS until
interrupted. The export is read-only; every mutation RPC is answered
with EROFS.

The listen address comes from settings; --listen overrides it. Port 0
picks a free port, printed once the server is ready.

Examples:
  extvfs serve disk.img
  extvfs serve disk.img --listen 127.0.0.1:2049`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "TCP address to listen on (default from settings)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := server.LoadSettings()
	if err != nil {
		return err
	}
	listen := settings.Listen
	if serveListen != "" {
		listen = serveListen
	}

	v, cleanup, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.NewNFSServer(v, settings)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listen)
	}()

	if err := srv.WaitReady(cmd.Context(), 5*time.Second); err != nil {
		// Serve may have failed outright (port in use); prefer its error.
		select {
		case serr := <-serveErr:
			if serr != nil {
				return fmt.Errorf("failed to serve: %w", serr)
			}
		default:
		}
		return fmt.Errorf("server not ready: %w", err)
	}

	addr := srv.Addr()
	fmt.Printf("Serving %s on %s\n", args[0], addr)
	if _, port, err := net.SplitHostPort(addr.String()); err == nil {
		fmt.Println("Mount with:")
		fmt.Printf("  mount -t nfs -o port=%s,mountport=%s,tcp,nolocks,vers=3,ro localhost:/ <mount-point>\n", port, port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %v, shutting down\n", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve failed: %w", err)
		}
	case <-cmd.Context().Done():
	}

	srv.Shutdown()
	return nil
}
