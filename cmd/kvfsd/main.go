// kvfsd assembles a kernel file system namespace (a ram root, devices at
// /dev and host directories) and optionally serves it over FUSE.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"kvfs/pkg/config"
	"kvfs/pkg/fusebridge"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file")
	mountPoint := flag.String("mount", "", "host directory to serve the namespace at")
	readOnly := flag.Bool("read-only", false, "refuse modifications through FUSE")
	debug := flag.Bool("debug", false, "log every FUSE request")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		log.Fatalf("Failed to read configuration: %v", err)
	}
	if *mountPoint != "" {
		cfg.FuseMountPoint = *mountPoint
	}
	if *readOnly {
		cfg.FuseReadOnly = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.SetLevel(cfg.Level())
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	sys, err := build(cfg)
	if err != nil {
		log.Fatalf("Failed to build namespace: %v", err)
	}
	logTree(sys.ns)
	log.Infof("namespace ready: %d volumes, init pid %d", len(sys.ns.Volumes()), sys.init.PID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.FuseMountPoint == "" {
		<-ctx.Done()
		log.Info("Shutting down")
		return
	}

	srv, err := fusebridge.NewServer(sys.ns, fusebridge.WithOwner(uint32(os.Getuid()), uint32(os.Getgid())))
	if err != nil {
		log.Fatalf("Failed to create FUSE server: %v", err)
	}
	err = fusebridge.Serve(ctx, srv, fusebridge.MountConfig{
		Dir:      cfg.FuseMountPoint,
		ReadOnly: cfg.FuseReadOnly,
		Debug:    *debug,
	})
	if err != nil {
		log.Fatalf("FUSE server error: %v", err)
	}
	log.Info("Unmounted, exiting")
}
