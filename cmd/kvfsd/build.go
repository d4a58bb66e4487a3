package main

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"kvfs/pkg/config"
	"kvfs/pkg/process"
	"kvfs/pkg/vfs"
	"kvfs/pkg/vfs/devfs"
	"kvfs/pkg/vfs/hostfs"
	"kvfs/pkg/vfs/ramfs"
)

// system is the assembled namespace and the process table on top of it.
type system struct {
	ns    *vfs.Namespace
	dev   *devfs.FS
	procs *process.Manager
	init  *process.Process
}

// build assembles the namespace cfg describes: a ram root, devices at
// /dev, /tmp and every host mount.
func build(cfg *config.Config) (*system, error) {
	ns := vfs.NewNamespace()

	var opts []ramfs.Option
	if cfg.RootCapacity > 0 {
		opts = append(opts, ramfs.WithCapacity(cfg.RootCapacity))
	}
	root := ramfs.New(ns.NextVolumeID(), "root", 0o755, opts...)
	if err := attach(ns, root, "/"); err != nil {
		return nil, err
	}

	dev := devfs.New(ns.NextVolumeID(), "dev")
	for _, d := range cfg.RAMDisks {
		if _, err := dev.AddRAMDisk(d.Name, d.Size); err != nil {
			return nil, errors.Wrapf(err, "ram disk %s", d.Name)
		}
	}

	procs := process.NewManager(ns, dev)
	procs.SetDefaultLimits(process.Limits{MaxFiles: cfg.MaxFiles})
	initProc, err := procs.Spawn("/")
	if err != nil {
		return nil, errors.Wrap(err, "spawning init")
	}

	for _, dir := range []string{"/dev", "/tmp"} {
		if r := initProc.Mkdir(dir, 0o755); r < 0 {
			return nil, errors.Wrapf(unix.Errno(-r), "mkdir %s", dir)
		}
	}
	if err := attach(ns, dev, "/dev"); err != nil {
		return nil, err
	}

	for _, m := range cfg.Mounts {
		host, err := hostfs.New(ns.NextVolumeID(), m.Path, m.HostDir, m.ReadOnly)
		if err != nil {
			return nil, errors.Wrapf(err, "host mount %s", m.Path)
		}
		if err := mkdirAll(ns, m.Path); err != nil {
			return nil, errors.Wrapf(err, "mkdir %s", m.Path)
		}
		if err := attach(ns, host, m.Path); err != nil {
			return nil, err
		}
	}

	return &system{ns: ns, dev: dev, procs: procs, init: initProc}, nil
}

func attach(ns *vfs.Namespace, v vfs.Volume, path string) error {
	if err := ns.RegisterVolume(v); err != nil {
		return errors.Wrapf(err, "registering %s", v.Name())
	}
	if err := ns.Mount(path, v.ID()); err != nil {
		return errors.Wrapf(err, "mounting %s at %s", v.Name(), path)
	}
	return nil
}

// mkdirAll creates path and every missing parent.
func mkdirAll(ns *vfs.Namespace, path string) error {
	p := ""
	for _, name := range strings.Split(vfs.Clean(path), "/")[1:] {
		p += "/" + name
		if err := ns.Mkdir(p, 0o755, nil); err != nil && err != vfs.ErrExists {
			return err
		}
	}
	return nil
}

// logTree logs every path in the namespace at debug level.
func logTree(ns *vfs.Namespace) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	ns.Walk("/", func(path string, node vfs.Node, err error) error {
		if err != nil {
			log.Debugf("[VFS] %s: %v", path, err)
			return nil
		}
		b := node.Base()
		log.Debugf("[VFS] %s %s %o %d", path, b.Type(), b.Perm(), b.Size())
		return nil
	})
}
