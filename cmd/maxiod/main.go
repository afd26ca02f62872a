// Command maxiod runs one node's core storage engine: erasure object
// layers, the dsync lock mesh, the grid transport, background healing,
// scanning, lifecycle expiration and replication. It deliberately stops at
// the transport named above -- the S3/admin HTTP surface spec.md §1 calls
// an external collaborator is not this binary's job.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/maxio/maxio/internal/config"
	"github.com/maxio/maxio/internal/crypto"
	"github.com/maxio/maxio/internal/discovery"
	"github.com/maxio/maxio/internal/dsync"
	"github.com/maxio/maxio/internal/erasure"
	"github.com/maxio/maxio/internal/grid"
	"github.com/maxio/maxio/internal/heal"
	"github.com/maxio/maxio/internal/lifecycle"
	"github.com/maxio/maxio/internal/logging"
	"github.com/maxio/maxio/internal/metrics"
	"github.com/maxio/maxio/internal/objectlayer"
	"github.com/maxio/maxio/internal/replication"
	"github.com/maxio/maxio/internal/scanner"
	"github.com/maxio/maxio/internal/xlstorage"
)

func main() {
	configPath := flag.String("config", "", "path to the cluster YAML config file")
	nodeID := flag.String("node", "", "this process's node id, must match a nodes[].id entry in -config")
	devLog := flag.Bool("dev", false, "use the human-readable console log encoder instead of JSON")
	flag.Parse()

	if *configPath == "" || *nodeID == "" {
		fmt.Fprintln(os.Stderr, "maxiod: -config and -node are required")
		os.Exit(2)
	}

	log, err := logging.New(!*devLog, zapcore.InfoLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maxiod: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, *nodeID, log); err != nil {
		log.Fatal("maxiod: fatal", zap.Error(err))
	}
}

func run(configPath, nodeID string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var self *config.NodeConfig
	for i := range cfg.Nodes {
		if cfg.Nodes[i].ID == nodeID {
			self = &cfg.Nodes[i]
		}
	}
	if self == nil {
		return fmt.Errorf("maxiod: node %q not found in %s", nodeID, configPath)
	}

	reg := metrics.New()
	_ = reg // exposing reg.Registerer over HTTP is the admin surface's job, not this binary's

	masterKey, err := crypto.LoadOrCreate(cfg.DataDir + "/.maxio.sys/.crypto/master.key")
	if err != nil {
		return fmt.Errorf("maxiod: load master key: %w", err)
	}

	lockTable := dsync.NewLockTable()
	gridServer := grid.NewMuxServer()
	dsync.RegisterLockHandlers(gridServer, lockTable)
	registerHealHandlers(gridServer, logging.Component(log, "heal-rpc"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := grid.NewListener(logging.Component(log, "grid"), gridServer)
	httpSrv := &http.Server{Addr: self.Addr, Handler: listener}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("maxiod: grid listener stopped", zap.Error(err))
		}
	}()
	defer httpSrv.Close()

	var peers []config.NodeConfig
	var lockers []dsync.NetLocker
	for _, n := range cfg.Nodes {
		if n.ID == nodeID {
			continue
		}
		peers = append(peers, n)
		conn := grid.NewConnection(n.Addr, logging.Component(log, "grid"))
		go conn.Run(ctx)
		lockers = append(lockers, dsync.NewGridLocker(n.Addr, conn))
	}
	locks := &dsync.Dsync{Lockers: lockers}

	discoveryNodes := make([]discovery.NodeConfig, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		discoveryNodes = append(discoveryNodes, discovery.NodeConfig{ID: n.ID, Addr: n.Addr})
	}
	disc := discovery.New(logging.Component(log, "discovery"), discovery.DefaultConfig(), discoveryNodes)
	go disc.Run(ctx)

	engines, disks, err := buildEngines(cfg, locks, masterKey)
	if err != nil {
		return err
	}
	if len(engines) == 0 {
		return fmt.Errorf("maxiod: no erasure sets configured")
	}
	primary := engines[0]

	replTargets := make([]replication.Target, 0, len(cfg.Replication.Targets))
	for _, t := range cfg.Replication.Targets {
		replTargets = append(replTargets, replication.Target{
			ARN: t.ARN, Endpoint: t.Endpoint, Bucket: t.Bucket,
			AccessKey: t.AccessKey, SecretKey: t.SecretKey, Region: t.Region,
		})
	}
	replCfg := replication.DefaultConfig()
	replCfg.MrfPersistenceDir = cfg.DataDir + "/.maxio.sys/.replication"
	pool := replication.New(logging.Component(log, "replication"), replCfg, replTargets)
	pool.SetRetryFunc(func(bucket, key, versionID string) ([]byte, error) {
		out, err := primary.GetObject(ctx, bucket, key, objectlayer.GetObjectInput{VersionID: versionID})
		if err != nil {
			return nil, err
		}
		defer out.Reader.Close()
		buf := make([]byte, out.Info.Size)
		if _, err := io.ReadFull(out.Reader, buf); err != nil {
			return nil, err
		}
		return buf, nil
	})
	defer pool.PersistMrf()

	healLog := logging.Component(log, "heal")
	tracker := heal.NewTracker(cfg.DataDir + "/.maxio.sys/.heal/tracker.json")
	mrf := heal.NewMrfQueue(100_000, 10, cfg.DataDir+"/.maxio.sys/.heal/mrf-queue.json")
	_ = mrf.Load()

	rootDisk := disks[0][0]
	scanCfg := scanner.DefaultConfig()
	scanCfg.HealVerify = func(bucket, key string) error {
		rep, err := heal.Object(ctx, healLog, disks[0], engines[0].Config(), engines[0].Codec(), bucket, key, "")
		if err != nil {
			return err
		}
		tracker.Record(rep)
		return nil
	}
	scan := scanner.New(logging.Component(log, "scanner"), rootDisk, primary, scanCfg)

	go healLoop(ctx, healLog, disks, engines, tracker, mrf)
	go scanLoop(ctx, logging.Component(log, "scanner"), scan, scanCfg.CycleInterval)
	go trackerSnapshotLoop(ctx, healLog, tracker)
	go lifecycleLoop(ctx, logging.Component(log, "lifecycle"), rootDisk, primary)

	log.Info("maxiod: started", zap.String("node", nodeID), zap.String("addr", self.Addr), zap.Int("peers", len(peers)), zap.Int("sets", len(engines)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("maxiod: shutting down")
	cancel()
	time.Sleep(200 * time.Millisecond) // let background loops observe ctx.Done before the defers run
	return nil
}

// buildEngines constructs one ErasureLayer per configured set, and returns
// the per-set disk slices alongside it (scanner and healing need direct
// disk access the ObjectLayer interface doesn't expose).
func buildEngines(cfg *config.ClusterConfig, locks *dsync.Dsync, masterKey *crypto.MasterKey) ([]*objectlayer.ErasureLayer, [][]*xlstorage.Disk, error) {
	var engines []*objectlayer.ErasureLayer
	var diskSets [][]*xlstorage.Disk
	for _, pool := range cfg.Pools {
		for _, set := range pool.Sets {
			disks := make([]*xlstorage.Disk, 0, len(set.Disks))
			for _, root := range set.Disks {
				d, err := xlstorage.NewDisk(root)
				if err != nil {
					return nil, nil, fmt.Errorf("maxiod: open disk %s: %w", root, err)
				}
				disks = append(disks, d)
			}
			ecfg := erasure.Config{DataShards: set.DataShards, ParityShards: set.ParityShards, BlockSize: set.BlockSizeByte}
			eng, err := objectlayer.NewErasureLayer(disks, ecfg, locks, masterKey)
			if err != nil {
				return nil, nil, fmt.Errorf("maxiod: build erasure set: %w", err)
			}
			engines = append(engines, eng)
			diskSets = append(diskSets, disks)
		}
	}
	return engines, diskSets, nil
}

// registerHealHandlers answers a peer's heal-object/heal-bucket requests
// against whatever set that peer names -- this node only ever heals its
// own disks, so these handlers exist purely so a remote admin trigger can
// reach the node that actually owns the affected set. A full
// set-addressing scheme belongs to the admin surface; this stub just
// parrots "not implemented" so HandlerHealObject/HandlerHealBucket are not
// silently unanswered.
func registerHealHandlers(s *grid.MuxServer, log *zap.Logger) {
	unimplemented := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, fmt.Errorf("maxiod: remote heal trigger not wired in this binary")
	}
	s.Handle(grid.HandlerHealObject, unimplemented)
	s.Handle(grid.HandlerHealBucket, unimplemented)
	log.Debug("maxiod: registered heal RPC stubs", zap.String("handlers", "HealObject,HealBucket"))
}

// healLoop periodically walks every configured set's buckets and heals
// them, replaying the MRF queue MrfQueue itself doesn't drain on its own.
func healLoop(ctx context.Context, log *zap.Logger, diskSets [][]*xlstorage.Disk, engines []*objectlayer.ErasureLayer, tracker *heal.Tracker, mrf *heal.MrfQueue) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, disks := range diskSets {
				buckets, err := disks[0].ListDir()
				if err != nil {
					log.Error("heal: list buckets failed", zap.Error(err))
					continue
				}
				for _, bucket := range buckets {
					tracker.SetCurrent(bucket, "")
					reports, err := heal.Bucket(ctx, log, disks, engines[i].Config(), engines[i].Codec(), bucket)
					if err != nil {
						log.Error("heal: bucket heal failed", zap.String("bucket", bucket), zap.Error(err))
						continue
					}
					for _, r := range reports {
						tracker.Record(r)
					}
				}
			}
			drainHealMrf(ctx, log, diskSets[0], engines[0], tracker, mrf)
		}
	}
}

// drainHealMrf replays every entry heal.Object itself couldn't retry
// inline, spec.md §4.7's MRF queue. Entries are re-enqueued with an
// incremented retry count on repeated failure, mirroring replication's own
// MRF tier.
func drainHealMrf(ctx context.Context, log *zap.Logger, disks []*xlstorage.Disk, eng *objectlayer.ErasureLayer, tracker *heal.Tracker, mrf *heal.MrfQueue) {
	for {
		entry, ok := mrf.Dequeue()
		if !ok {
			return
		}
		rep, err := heal.Object(ctx, log, disks, eng.Config(), eng.Codec(), entry.Bucket, entry.Key, entry.VersionID)
		if err != nil {
			log.Error("heal: MRF retry failed", zap.String("bucket", entry.Bucket), zap.String("key", entry.Key), zap.Error(err))
			entry.RetryCount++
			if enqErr := mrf.Enqueue(entry); enqErr != nil {
				log.Error("heal: MRF re-enqueue failed", zap.Error(enqErr))
			}
			continue
		}
		tracker.Record(rep)
	}
}

func scanLoop(ctx context.Context, log *zap.Logger, s *scanner.Scanner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx, false); err != nil {
				log.Error("scanner: cycle failed", zap.Error(err))
			}
		}
	}
}

func trackerSnapshotLoop(ctx context.Context, log *zap.Logger, tracker *heal.Tracker) {
	ticker := time.NewTicker(heal.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tracker.Snapshot(); err != nil {
				log.Error("heal: tracker snapshot failed", zap.Error(err))
			}
		}
	}
}

// lifecycleLoop evaluates every bucket's expiration rules once per tick,
// spec.md §4.10; actual deletion goes through the same ObjectLayer every
// other caller uses so versioning/locking invariants stay in one place.
func lifecycleLoop(ctx context.Context, log *zap.Logger, d *xlstorage.Disk, ol objectlayer.ObjectLayer) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets, err := d.ListDir()
			if err != nil {
				log.Error("lifecycle: list buckets failed", zap.Error(err))
				continue
			}
			for _, bucket := range buckets {
				cfg, err := lifecycle.Load(d, bucket)
				if err != nil {
					log.Error("lifecycle: load config failed", zap.String("bucket", bucket), zap.Error(err))
					continue
				}
				versions, err := ol.ListObjectVersions(ctx, bucket, "", 0)
				if err != nil {
					log.Error("lifecycle: list versions failed", zap.String("bucket", bucket), zap.Error(err))
					continue
				}
				lifecycle.EvaluateBucket(log, cfg, bucket, versions, func(bucket, key, versionID string) error {
					_, err := ol.DeleteObject(ctx, bucket, key, versionID)
					return err
				}, time.Now().UTC())
			}
		}
	}
}
