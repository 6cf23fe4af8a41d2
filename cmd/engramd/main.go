package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"engram/internal/audit"
	"engram/internal/broadcast"
	"engram/internal/cache"
	"engram/internal/config"
	"engram/internal/consolidate"
	"engram/internal/dream"
	"engram/internal/embedding"
	"engram/internal/extraction"
	"engram/internal/feedback"
	"engram/internal/graphstore"
	"engram/internal/keyword"
	"engram/internal/lesson"
	"engram/internal/memory"
	"engram/internal/miner"
	"engram/internal/observability"
	"engram/internal/prefs"
	"engram/internal/retrieve"
	"engram/internal/sharedblock"
	"engram/internal/store"
	"engram/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	var shutdownOTel func(context.Context) error
	if cfg.Obs.OTLPEndpoint != "" {
		shutdownOTel, err = observability.InitOTel(context.Background(), cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		} else {
			observability.TeeToOTel(cfg.Obs.ServiceName)
		}
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	vs := vectorstore.New(cfg.Vector.URL)
	embed := embedding.New(cfg.Embedding)
	kw := keyword.New()

	var graph *graphstore.Client
	if cfg.Graph.Enabled {
		graph = graphstore.New(cfg.Graph.URL)
	}

	var extract *extraction.Client
	if cfg.Extract.Enabled {
		extract = extraction.New(cfg.Extract.URL)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	memCache := cache.New(rdb)

	var bcast broadcast.Broadcaster
	if cfg.EnableBroadcast {
		switch cfg.BrokerKind {
		case "kafka":
			bcast = broadcast.NewKafka(cfg.Kafka.Brokers)
		default:
			bcast = broadcast.NewRedis(rdb)
		}
	}

	var auditLedger *audit.Ledger
	if cfg.Audit.DSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Audit.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("audit pool init failed, continuing without ledger")
		} else {
			auditLedger = audit.New(pool)
			defer auditLedger.Close()
		}
	}

	collections := store.Collections{Shared: cfg.Vector.Collections.Shared, Private: cfg.Vector.Collections.Private}

	storeOrch := &store.Orchestrator{
		VS:                vs,
		Embed:             embed,
		Extract:           extract,
		Graph:             graph,
		Broadcast:         bcast,
		Cache:             memCache,
		Keyword:           kw,
		Collections:       collections,
		AutoLinkThreshold: cfg.AutoLinkThreshold,
		AutoLinkK:         5,
		EnableAutoLink:    cfg.EnableAutoLink,
		EnableGraph:       cfg.Graph.Enabled,
		EnableBroadcast:   cfg.EnableBroadcast,
	}

	prefStore := prefs.NewStore()

	retrieveOrch := &retrieve.Orchestrator{
		VS:          vs,
		Embed:       embed,
		Keyword:     kw,
		Graph:       graph,
		Cache:       memCache,
		Prefs:       prefStore,
		EnableGraph: cfg.Graph.Enabled,
	}
	retrieveOrch.Collections.Shared = cfg.Vector.Collections.Shared
	retrieveOrch.Collections.Private = cfg.Vector.Collections.Private

	feedbackOrch := &feedback.Orchestrator{VS: vs, Prefs: prefStore}

	lessonOrch := &lesson.Orchestrator{VS: vs, PrivatePartition: cfg.Vector.Collections.Private, AgentID: cfg.AgentID}

	minerOrch := &miner.Orchestrator{VS: vs, Graph: graph, Audit: auditLedger, AgentID: cfg.AgentID, PrivatePartition: cfg.Vector.Collections.Private}
	consolidateOrch := &consolidate.Orchestrator{VS: vs, Audit: auditLedger, AgentID: cfg.AgentID}
	dreamOrch := &dream.Orchestrator{VS: vs, Miner: minerOrch, AgentID: cfg.AgentID, Budget: 5 * time.Minute}

	blocks := sharedblock.New(vs, cfg.Vector.Collections.Shared)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := vs.Count(r.Context(), cfg.Vector.Collections.Shared); err != nil {
			http.Error(w, "vector store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
	})

	mux.HandleFunc("/v1/memories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Text     string `json:"text"`
			AgentID  string `json:"agent_id"`
			UserID   string `json:"user_id"`
			Category string `json:"category"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.AgentID == "" {
			req.AgentID = cfg.AgentID
		}
		result, err := storeOrch.Store(r.Context(), store.Input{Text: req.Text, AgentID: req.AgentID, UserID: req.UserID, Category: req.Category})
		if err != nil {
			observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("store failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if les, ok := lessonOrch.FromReply(r.Context(), req.Text, req.Text, req.Category, ""); ok {
			observability.LoggerWithTrace(r.Context()).Debug().Str("lesson_id", les.ID).Msg("lesson_detected")
		}
		writeJSON(w, map[string]any{"action": result.Action, "cell": result.Cell})
	})

	mux.HandleFunc("/v1/recall", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Text    string `json:"text"`
			AgentID string `json:"agent_id"`
			UserID  string `json:"user_id"`
			Limit   int    `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.AgentID == "" {
			req.AgentID = cfg.AgentID
		}
		results, err := retrieveOrch.Retrieve(r.Context(), retrieve.Query{Text: req.Text, AgentID: req.AgentID, UserID: req.UserID, Limit: req.Limit})
		if err != nil {
			observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("retrieve failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"results": results})
	})

	mux.HandleFunc("/v1/feedback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Partition string   `json:"partition"`
			CellIDs   []string `json:"cell_ids"`
			Response  string   `json:"response"`
			UserID    string   `json:"user_id"`
			AgentID   string   `json:"agent_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		cells := make([]*memory.Cell, 0, len(req.CellIDs))
		for _, id := range req.CellIDs {
			p, err := vs.Get(r.Context(), req.Partition, id)
			if err != nil || p.Payload == nil {
				continue
			}
			cells = append(cells, memory.CellFromPayload(id, nil, p.Payload))
		}
		outcomes, err := feedbackOrch.Apply(r.Context(), req.Partition, cells, req.Response, req.UserID, req.AgentID)
		if err != nil {
			observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("feedback apply failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"outcomes": outcomes})
	})

	mux.HandleFunc("/v1/blocks/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/v1/blocks/"):]
		switch r.Method {
		case http.MethodGet:
			blk, ok, err := blocks.Get(r.Context(), name)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, blk)
		case http.MethodPut:
			var req struct {
				Content string `json:"content"`
				Writer  string `json:"writer"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			vec, err := embed.Embed(r.Context(), req.Content)
			if err != nil {
				http.Error(w, "embedding failed", http.StatusBadGateway)
				return
			}
			blk, err := blocks.Set(r.Context(), name, req.Content, vec, req.Writer, nil)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, blk)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/maintenance/consolidate", func(w http.ResponseWriter, r *http.Request) {
		summary, err := consolidateOrch.Run(r.Context(), cfg.Vector.Collections.Shared)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	})
	mux.HandleFunc("/v1/maintenance/dream", func(w http.ResponseWriter, r *http.Request) {
		if !dreamOrch.ShouldRun(r.Context(), cfg.Vector.Collections.Shared) {
			writeJSON(w, map[string]string{"status": "skipped, ran recently"})
			return
		}
		summary, err := dreamOrch.Run(r.Context(), cfg.Vector.Collections.Shared, len(mustEmbed(r.Context(), embed)))
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	})
	mux.HandleFunc("/v1/maintenance/mine", func(w http.ResponseWriter, r *http.Request) {
		result, err := minerOrch.Run(r.Context(), cfg.Vector.Collections.Shared)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"pattern_count": len(result.Patterns), "terms": result.Terms})
	})

	if cfg.EnableDreamConsolidation {
		go runPeriodicMaintenance(consolidateOrch, dreamOrch, cfg)
	}

	srv := &http.Server{Addr: ":8088", Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("engramd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// mustEmbed discovers the configured embedding dimensionality by issuing a
// throwaway probe embedding; used only to size dream's marker vector.
func mustEmbed(ctx context.Context, embed *embedding.Client) []float32 {
	vec, err := embed.Embed(ctx, "dimensionality probe")
	if err != nil {
		return nil
	}
	return vec
}

// runPeriodicMaintenance drives consolidation hourly and the dream
// compactor whenever ShouldRun reports the interval has elapsed.
func runPeriodicMaintenance(q *consolidate.Orchestrator, r *dream.Orchestrator, cfg config.Config) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if _, err := q.Run(ctx, cfg.Vector.Collections.Shared); err != nil {
			log.Warn().Err(err).Msg("scheduled consolidation failed")
		}
		if r.ShouldRun(ctx, cfg.Vector.Collections.Shared) {
			if _, err := r.Run(ctx, cfg.Vector.Collections.Shared, 0); err != nil {
				log.Warn().Err(err).Msg("scheduled dream run failed")
			}
		}
		cancel()
	}
}
