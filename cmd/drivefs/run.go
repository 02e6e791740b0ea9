package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	databrickssdk "github.com/databricks/databricks-sdk-go"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"drivefs/internal/filecache"
	drivefuse "drivefs/internal/fuse"
	"drivefs/internal/logging"
	"drivefs/internal/metacache"
	"drivefs/internal/opqueue"
	"drivefs/internal/remote"
)

// shutdownTimeout bounds how long shutdown waits for the background sync
// worker goroutine to exit. Dirty entries left at that point are reported,
// not uploaded.
const shutdownTimeout = 30 * time.Second

// cliConfig captures parsed command-line flags.
type cliConfig struct {
	showVersion bool
	debug       bool
	logLevel    string
	allowOther  bool
	enableCache bool
	cacheDir    string
	cacheSizeGB float64
	cacheTTL    time.Duration
	metaTTL     time.Duration
	syncInterval time.Duration
	mountPoint  string
}

type cliError struct {
	exitCode int
	msg      string
	printed  bool
}

func (e *cliError) Error() string {
	return e.msg
}

type mountServer interface {
	Wait()
	Unmount() error
}

type runDeps struct {
	initWorkspace  func() (*databrickssdk.WorkspaceClient, error)
	workspaceMe    func(context.Context, *databrickssdk.WorkspaceClient) (string, error)
	currentUser    func() (*user.User, error)
	newRemote      func(*databrickssdk.WorkspaceClient) (remote.Client, error)
	newFileCache   func(dir string, maxSizeBytes int64) (*filecache.Cache, error)
	newMetaCache   func(ttl time.Duration) *metacache.Cache
	newQueue       func(opqueue.Config, remote.Client, *filecache.Cache, *metacache.Cache) *opqueue.Queue
	newRootNode    func(context.Context, remote.Client, *filecache.Cache, *metacache.Cache, *opqueue.Queue, *drivefuse.HandleRegistry, string, *drivefuse.NodeConfig) (*drivefuse.Node, error)
	mount          func(string, fs.InodeEmbedder, *fs.Options) (mountServer, error)
	signalContext  func() (context.Context, context.CancelFunc)
	versionOut     func(string)
}

func defaultDeps() runDeps {
	return runDeps{
		initWorkspace: func() (*databrickssdk.WorkspaceClient, error) {
			return databrickssdk.NewWorkspaceClient()
		},
		workspaceMe: func(ctx context.Context, w *databrickssdk.WorkspaceClient) (string, error) {
			me, err := w.CurrentUser.Me(ctx)
			if err != nil {
				return "", err
			}
			return me.DisplayName, nil
		},
		currentUser: user.Current,
		newRemote: func(w *databrickssdk.WorkspaceClient) (remote.Client, error) {
			return remote.NewDatabricksClient(w)
		},
		newFileCache: filecache.New,
		newMetaCache: metacache.New,
		newQueue: func(cfg opqueue.Config, client remote.Client, cache *filecache.Cache, meta *metacache.Cache) *opqueue.Queue {
			return opqueue.New(cfg, client, cache, meta)
		},
		newRootNode: drivefuse.NewRootNode,
		mount: func(mountPoint string, root fs.InodeEmbedder, opts *fs.Options) (mountServer, error) {
			return fs.Mount(mountPoint, root, opts)
		},
		signalContext: func() (context.Context, context.CancelFunc) {
			return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		},
		versionOut: func(s string) {
			fmt.Print(s)
		},
	}
}

func parseArgs(args []string) (cliConfig, error) {
	var cfg cliConfig
	if len(args) == 0 {
		return cfg, &cliError{exitCode: 1, msg: "Usage: drivefs MOUNTPOINT"}
	}

	fset := flag.NewFlagSet(args[0], flag.ContinueOnError)

	showVersion := fset.Bool("version", false, "print version and exit")
	debug := fset.Bool("debug", false, "print debug data (equivalent to --log-level=debug)")
	logLevel := fset.String("log-level", "info", "log level: debug, info, warn, error")
	allowOther := fset.Bool("allow-other", false, "allow other users to access the mount")
	enableCache := fset.Bool("cache", true, "enable disk cache for file contents")
	cacheDir := fset.String("cache-dir", filepath.Join(os.TempDir(), "drivefs-cache"), "cache directory path")
	cacheSizeGB := fset.Float64("cache-size", 10, "maximum cache size in GB")
	cacheTTL := fset.Duration("cache-ttl", 24*time.Hour, "data cache entry TTL (e.g., 24h, 30m); validated and logged only, the background sweep always uses 24h")
	metaTTL := fset.Duration("meta-ttl", 5*time.Second, "metadata cache TTL for attrs and listings")
	syncInterval := fset.Duration("sync-interval", drivefuse.DefaultAutoSyncInterval, "background dirty-file sync interval")

	if err := fset.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, &cliError{exitCode: 0, printed: true}
		}
		return cfg, &cliError{exitCode: 2, msg: err.Error(), printed: true}
	}

	cfg = cliConfig{
		showVersion:  *showVersion,
		debug:        *debug,
		logLevel:     *logLevel,
		allowOther:   *allowOther,
		enableCache:  *enableCache,
		cacheDir:     *cacheDir,
		cacheSizeGB:  *cacheSizeGB,
		cacheTTL:     *cacheTTL,
		metaTTL:      *metaTTL,
		syncInterval: *syncInterval,
	}

	if fset.NArg() > 0 {
		cfg.mountPoint = fset.Arg(0)
	}

	if cfg.mountPoint == "" && !cfg.showVersion {
		return cfg, &cliError{exitCode: 1, msg: fmt.Sprintf("Usage: %s MOUNTPOINT", args[0])}
	}

	return cfg, nil
}

func validateConfig(cfg cliConfig) error {
	if !cfg.enableCache {
		return nil
	}
	if cfg.cacheSizeGB <= 0 {
		return &cliError{exitCode: 1, msg: fmt.Sprintf("Invalid cache size: %.2f GB (must be positive)", cfg.cacheSizeGB)}
	}
	if cfg.cacheSizeGB > 1000 {
		return &cliError{exitCode: 1, msg: fmt.Sprintf("Invalid cache size: %.2f GB (maximum is 1000 GB)", cfg.cacheSizeGB)}
	}
	if cfg.cacheTTL <= 0 {
		return &cliError{exitCode: 1, msg: fmt.Sprintf("Invalid cache TTL: %v (must be positive)", cfg.cacheTTL)}
	}
	return nil
}

func buildNodeConfig(ownerUid uint32, allowOther bool) *drivefuse.NodeConfig {
	return &drivefuse.NodeConfig{
		OwnerUid:       ownerUid,
		RestrictAccess: !allowOther,
	}
}

func buildMountOptions(allowOther bool, debug bool) *fs.Options {
	attrTimeout := 30 * time.Second
	entryTimeout := 30 * time.Second
	negativeTimeout := 0 * time.Second

	opts := &fs.Options{
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			AllowOther: allowOther,
			Name:       "drivefs",
			FsName:     "drivefs",
		},
	}
	opts.Debug = debug
	return opts
}

func versionString() string {
	return fmt.Sprintf("drivefs %s (commit: %s, built: %s)\n", version, commit, date)
}

func run(args []string, deps runDeps) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}

	if cfg.showVersion {
		deps.versionOut(versionString())
		return nil
	}

	if cfg.debug {
		logging.SetLevel(logging.LevelDebug)
	} else {
		logging.SetLevel(logging.ParseLevel(cfg.logLevel))
	}

	if err := validateConfig(cfg); err != nil {
		return err
	}

	w, err := deps.initWorkspace()
	if err != nil {
		return fmt.Errorf("failed to create Databricks client: %w", err)
	}

	displayName, err := deps.workspaceMe(context.Background(), w)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	logging.Infof("Hello, %s! Mounting your Databricks workspace...", displayName)

	client, err := deps.newRemote(w)
	if err != nil {
		return fmt.Errorf("failed to create remote client: %w", err)
	}

	var dataCacheSize int64
	cacheDir := cfg.cacheDir
	if cfg.enableCache {
		dataCacheSize = int64(cfg.cacheSizeGB * 1024 * 1024 * 1024)
		logging.Debugf("data cache enabled: dir=%s, size=%.1fGB, ttl=%v", cacheDir, cfg.cacheSizeGB, cfg.cacheTTL)
	} else {
		cacheDir, err = os.MkdirTemp("", "drivefs-cache-disabled-*")
		if err != nil {
			return fmt.Errorf("failed to create scratch cache dir: %w", err)
		}
		dataCacheSize = 0
		logging.Debugf("disk cache disabled; using scratch dir %s with the default size cap", cacheDir)
	}
	dataCache, err := deps.newFileCache(cacheDir, dataCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create data cache: %w", err)
	}

	metaCache := deps.newMetaCache(cfg.metaTTL)

	queue := deps.newQueue(opqueue.Config{}, client, dataCache, metaCache)
	queue.Start()

	handles := drivefuse.NewHandleRegistry()

	currentUser, err := deps.currentUser()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	ownerUid, err := strconv.ParseUint(currentUser.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("failed to parse UID: %w", err)
	}

	nodeConfig := buildNodeConfig(uint32(ownerUid), cfg.allowOther)
	if cfg.allowOther {
		logging.Infof("allow-other enabled: all local users can access the mount")
	} else {
		logging.Debugf("access control enabled: only UID %d can access the mount", ownerUid)
	}

	root, err := deps.newRootNode(context.Background(), client, dataCache, metaCache, queue, handles, "/", nodeConfig)
	if err != nil {
		queue.Stop()
		return fmt.Errorf("failed to create root node: %w", err)
	}

	syncWorker := drivefuse.NewSyncWorker(dataCache, queue, handles, cfg.syncInterval)
	syncWorker.Start()

	opts := buildMountOptions(cfg.allowOther, cfg.debug)
	server, err := deps.mount(cfg.mountPoint, root, opts)
	if err != nil {
		queue.Stop()
		return fmt.Errorf("mount failed: %w", err)
	}
	logging.Infof("mounted Databricks workspace on %s", cfg.mountPoint)
	logging.Infof("press Ctrl+C to unmount")

	ctx, stop := deps.signalContext()
	defer stop()

	var unmountOnce sync.Once
	unmount := func() {
		unmountOnce.Do(func() {
			if err := server.Unmount(); err != nil {
				log.Printf("unmount error: %v", err)
			}
		})
	}

	go func() {
		<-ctx.Done()
		log.Println("shutdown signal received, draining background sync worker...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		syncWorker.Stop(shutdownCtx)
		queue.Stop()

		unmount()
	}()

	server.Wait()
	return nil
}
