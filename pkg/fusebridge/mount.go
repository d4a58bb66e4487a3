package fusebridge

import (
	"context"
	stdlog "log"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MountConfig describes where and how a Server is mounted.
type MountConfig struct {
	// Dir is the host directory to mount on.
	Dir string
	// ReadOnly makes the kernel refuse every modification.
	ReadOnly bool
	// Debug logs every FUSE request.
	Debug bool
}

// Mount serves s at cfg.Dir. The returned file system is unmounted with
// fuse.Unmount, after which Join returns.
func Mount(s *Server, cfg MountConfig) (*fuse.MountedFileSystem, error) {
	errorLog := log.StandardLogger().WriterLevel(log.ErrorLevel)

	mcfg := &fuse.MountConfig{
		FSName:                  "kvfs",
		ReadOnly:                cfg.ReadOnly,
		DisableWritebackCaching: true,
		ErrorLogger:             stdlog.New(errorLog, "[FUSE] ", 0),
	}
	if cfg.Debug {
		debugLog := log.StandardLogger().WriterLevel(log.DebugLevel)
		mcfg.DebugLogger = stdlog.New(debugLog, "[FUSE] ", 0)
	}

	mfs, err := fuse.Mount(cfg.Dir, fuseutil.NewFileSystemServer(s), mcfg)
	if err != nil {
		return nil, errors.Wrapf(err, "mounting %s", cfg.Dir)
	}
	log.Infof("[FUSE] serving namespace at %s", cfg.Dir)
	return mfs, nil
}

// Serve mounts s and blocks until ctx is cancelled or the file system is
// unmounted from outside.
func Serve(ctx context.Context, s *Server, cfg MountConfig) error {
	mfs, err := Mount(s, cfg)
	if err != nil {
		return err
	}

	joined := make(chan error, 1)
	go func() { joined <- mfs.Join(context.Background()) }()

	select {
	case err := <-joined:
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	if err := fuse.Unmount(cfg.Dir); err != nil {
		return errors.Wrapf(err, "unmounting %s", cfg.Dir)
	}
	return errors.Wrap(<-joined, "serving")
}
