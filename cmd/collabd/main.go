// Command collabd is the long-running daemon: it opens the KV store,
// hosts one broadcast group per object, and serves the WebSocket sync
// endpoint plus a Prometheus /metrics endpoint, the way cuemby-warren's
// cmd/warren serves its manager API over cobra-parsed flags.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/collabrt/collab/pkg/collab"
	"github.com/collabrt/collab/pkg/collab/plugins"
	"github.com/collabrt/collab/pkg/collaberr"
	"github.com/collabrt/collab/pkg/config"
	"github.com/collabrt/collab/pkg/kv"
	"github.com/collabrt/collab/pkg/log"
	"github.com/collabrt/collab/pkg/metrics"
	"github.com/collabrt/collab/pkg/persistence"
	"github.com/collabrt/collab/pkg/sync"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "collabd",
	Short: "collabd hosts broadcast groups and serves the collaboration sync protocol",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().String("data-dir", "", "override config.data_dir")
	rootCmd.Flags().String("bind-addr", "", "override config.bind_addr")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("bind-addr"); v != "" {
		cfg.BindAddr = v
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	store, err := kv.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("collabd: open kv store: %w", err)
	}
	defer store.Close()

	engine := persistence.NewEngine(store, persistence.Config{
		EnableSnapshot:    cfg.Persistence.EnableSnapshot,
		SnapshotPerUpdate: uint32(cfg.Persistence.SnapshotPerUpdate),
	})
	index := persistence.NewIndex(store)
	registry := sync.NewRegistry(5 * time.Minute)

	srv := &server{cfg: cfg, engine: engine, index: index, registry: registry}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", srv.handleSync)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	httpSrv := &http.Server{Addr: cfg.BindAddr, Handler: mux}

	go func() {
		log.Info("collabd: listening on " + cfg.BindAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("collabd: server error", err)
		}
	}()

	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				registry.Sweep(time.Now())
			case <-sweepStop:
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	close(sweepStop)
	return httpSrv.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// server owns the daemon's shared dependencies, closed over by its HTTP
// handlers.
type server struct {
	cfg      config.Config
	engine   *persistence.Engine
	index    *persistence.Index
	registry *sync.Registry
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("collabd: websocket upgrade failed", err)
		return
	}
	defer ws.Close()

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}

	sink := sync.NewSink(clientID, sync.SinkConfig{
		Capacity:     s.cfg.Sync.QueueCapacity,
		MergeWindow:  time.Duration(s.cfg.Sync.MergeWindowMS) * time.Millisecond,
		RetryHorizon: s.cfg.Sync.RetryHorizon,
	})

	session := sync.NewSession(clientID, clientID, ws, sink, s.resolveObject)
	if err := session.Serve(r.Context()); err != nil {
		log.Errorf("collabd: session "+clientID+" ended", err)
	}
}

// resolveObject parses a "type:value" object id, ensures it has a
// durable doc handle, and returns (creating if needed) its broadcast
// group wired to disk persistence and periodic snapshotting.
func (s *server) resolveObject(objectIDStr string) (*sync.Group, error) {
	objectID, err := parseObjectID(objectIDStr)
	if err != nil {
		return nil, err
	}

	if g, ok := s.registry.Get(objectID); ok {
		return g, nil
	}

	handle, _, err := s.index.EnsureHandle(0, "", objectIDStr)
	if err != nil {
		return nil, err
	}

	typeName := objectID.Type.String()
	diskPlugin := plugins.NewDiskPersistence(s.engine, handle, typeName)

	extra := []collab.Plugin{diskPlugin}
	if s.cfg.Persistence.EnableSnapshot {
		extra = append(extra, plugins.NewSnapshotGenerator(s.engine, handle, typeName, uint32(s.cfg.Persistence.SnapshotPerUpdate)))
	}

	source := collab.DiskSource(s.engine.Loader(handle, s.cfg.NodeID))
	return s.registry.GetOrCreate(objectID, "server", s.cfg.NodeID, source, extra...)
}

// parseObjectID parses the "type:value" form collab.ObjectID.String()
// produces. Value itself may contain colons, so only the first segment
// is taken as the type tag.
func parseObjectID(s string) (collab.ObjectID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return collab.ObjectID{}, collaberr.Wrap(collaberr.KindEncoding, "malformed object id "+s, nil)
	}
	typ, ok := collabTypeFromString(parts[0])
	if !ok {
		return collab.ObjectID{}, collaberr.Wrap(collaberr.KindEncoding, "unknown object type in "+s, nil)
	}
	return collab.ObjectID{Type: typ, Value: parts[1]}, nil
}

func collabTypeFromString(s string) (collab.Type, bool) {
	switch s {
	case "document":
		return collab.TypeDocument, true
	case "database":
		return collab.TypeDatabase, true
	case "database_row":
		return collab.TypeDatabaseRow, true
	case "workspace_database":
		return collab.TypeWorkspaceDatabase, true
	case "folder":
		return collab.TypeFolder, true
	case "user_awareness":
		return collab.TypeUserAwareness, true
	case "empty":
		return collab.TypeEmpty, true
	default:
		return 0, false
	}
}
