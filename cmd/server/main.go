package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	persistlog "townclaims.dev/internal/persistence/log"
	"townclaims.dev/internal/persistence/snapshot"
	"townclaims.dev/internal/persistence/store"
	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/presence"
	"townclaims.dev/internal/sim/territory"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/tuning"
	"townclaims.dev/internal/transport/admin"
	"townclaims.dev/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		snapPath     = flag.String("snapshot", "", "restore state from this snapshot (or \"latest\") instead of the store")
		snapCodec    = flag.String("snapshot_codec", snapshot.CodecZstd, "snapshot framing: zstd or lz4")
		snapEvery    = flag.Duration("snapshot_every", 10*time.Minute, "periodic snapshot interval (0 disables)")
		disableAudit = flag.Bool("disable_audit", false, "disable the JSONL audit and event logs")
		bridgeToken  = flag.String("token", "", "shared secret hosts must present in HELLO (or set TC_BRIDGE_TOKEN)")
		enableAdmin  = flag.Bool("admin", true, "serve the admin API under /admin/v1")
		adminRemote  = flag.Bool("admin_remote", false, "allow admin API requests from non-loopback addresses")
		cmdRate      = flag.Float64("cmd_rate", 50, "per-connection command rate limit (per second)")
		cmdBurst     = flag.Int("cmd_burst", 100, "per-connection command burst")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	tuningDigest := tune.Digest()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	db, err := store.OpenSQLite(filepath.Join(*dataDir, "towns.db"))
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer db.Close()
	if prev, _ := db.Meta("tuning_digest"); prev != "" && prev != tuningDigest {
		logger.Printf("tuning changed since last run (was %s)", prev)
	}
	_ = db.SetMeta("tuning_digest", tuningDigest)

	snapDir := filepath.Join(*dataDir, "snapshots")
	restoreFrom := strings.TrimSpace(*snapPath)
	if restoreFrom == "latest" {
		if restoreFrom = latestSnapshot(snapDir); restoreFrom == "" {
			logger.Fatalf("no snapshot found in %s", snapDir)
		}
	}

	var state modelpkg.State
	if p := restoreFrom; p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		state = snap.ToState()
		if err := db.Replace(state); err != nil {
			logger.Fatalf("restore store from snapshot: %v", err)
		}
		logger.Printf("restored from snapshot=%s taken=%s", filepath.Base(p), humanize.Time(time.UnixMilli(snap.Header.TakenMs)))
	} else {
		state, err = db.Load()
		if err != nil {
			logger.Fatalf("load store: %v", err)
		}
	}

	var audit territory.AuditLogger = db
	var events ws.EventSink
	if !*disableAudit {
		auditLog := persistlog.NewAuditLogger(*dataDir)
		eventLog := persistlog.NewEventLogger(*dataDir)
		defer auditLog.Close()
		defer eventLog.Close()
		audit = multiAuditLogger{a: auditLog, b: db}
		events = eventLog
	}

	pres := presence.NewTable()
	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}

	// The bridge is the notifier, and the bridge needs the runtime; tie the knot
	// through a forwarding notifier.
	notifier := &lateNotifier{}
	eng := territory.New(territory.Config{
		Tuning:   tune,
		Presence: pres,
		Store:    db,
		Notifier: notifier,
		Audit:    audit,
		Logger:   logger,
	})
	eng.Load(state, time.Now())
	logger.Printf("loaded towns=%d contests=%d digest=%s", len(state.Towns), len(state.Contests), eng.StateDigest()[:12])

	ctx, cancel := signalContext()
	defer cancel()

	snapCh := make(chan territory.Snapshot, 2)
	rt := territory.NewRuntime(eng, territory.RuntimeConfig{
		TickInterval:  time.Duration(tune.TickIntervalMs) * time.Millisecond,
		SnapshotEvery: *snapEvery,
		SnapshotSink:  snapCh,
		Logger:        logger,
	})

	// Snapshot writer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				snap := snapshot.FromState(s.State, s.Digest, s.TakenAt)
				path := filepath.Join(snapDir, fmt.Sprintf("%d.snap", s.TakenAt.UnixMilli()))
				if err := snapshot.WriteSnapshot(path, snap, *snapCodec); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				towns, claims, contests := snap.Counts()
				if err := db.RecordSnapshot(s.TakenAt, path, s.Digest, towns, claims, contests); err != nil {
					logger.Printf("snapshot index: %v", err)
				}
				logger.Printf("snapshot written: %s towns=%d claims=%d", filepath.Base(path), towns, claims)
			}
		}
	}()

	go func() {
		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("territory loop stopped: %v", err)
		}
	}()

	token := strings.TrimSpace(*bridgeToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TC_BRIDGE_TOKEN"))
	}
	bridge := ws.NewServer(rt, pres, validator, logger, ws.Config{
		Token:          token,
		TuningDigest:   tuningDigest,
		TickIntervalMs: tune.TickIntervalMs,
		CmdRate:        rateLimit(*cmdRate),
		CmdBurst:       *cmdBurst,
		Events:         events,
	})
	notifier.set(bridge)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", bridge.Handler())
	if *enableAdmin {
		router := admin.NewRouter(rt, logger, admin.Config{
			AllowRemote:  *adminRemote,
			TuningDigest: tuningDigest,
			Sessions:     bridge.Sessions,
		})
		mux.Handle("/admin/", router)
		mux.Handle("/healthz", router)
	} else {
		logger.Printf("admin endpoints disabled")
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (snapshots: %s every %s)", *addr, latestSnapshotLabel(snapDir), *snapEvery)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot returns the newest <ms>.snap file in dir, or "".
func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestMs int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap") {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || ms > bestMs {
			bestMs = ms
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func latestSnapshotLabel(dir string) string {
	p := latestSnapshot(dir)
	if p == "" {
		return "none yet"
	}
	h, err := snapshot.ReadHeader(p)
	if err != nil {
		return "latest unreadable"
	}
	return fmt.Sprintf("latest %s", humanize.Time(time.UnixMilli(h.TakenMs)))
}

type multiAuditLogger struct {
	a territory.AuditLogger
	b territory.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry territory.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
