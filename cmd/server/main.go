// Command server runs a single-instrument exchange: one matching engine, one
// margin guardian, one mmap write-ahead log, fronted by an HTTP gateway that
// funnels every request through the disruptor ring buffer so the journal
// records one deterministic total order.
//
//	client -> HTTP handler -> ring buffer -> single consumer -> exchange pipeline
//	                                              |
//	                                   journal (mmap WAL) -> guardian -> matching engine
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexuscore/exchange/internal/config"
	"github.com/nexuscore/exchange/internal/disruptor"
	"github.com/nexuscore/exchange/internal/exchange"
	"github.com/nexuscore/exchange/internal/fixedpoint"
	"github.com/nexuscore/exchange/internal/guardian"
	"github.com/nexuscore/exchange/internal/marketdata"
	"github.com/nexuscore/exchange/internal/matching"
	"github.com/nexuscore/exchange/internal/orderbook"
	"github.com/nexuscore/exchange/internal/sentinel"
)

type serverMetrics struct {
	ordersAccepted prometheus.Counter
	ordersRejected *prometheus.CounterVec
	fillsTotal     prometheus.Counter
	walAppends     prometheus.Counter
	walBytes       prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	return &serverMetrics{
		ordersAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_orders_accepted_total",
			Help: "Orders accepted by the guardian and matching engine.",
		}),
		ordersRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_orders_rejected_total",
			Help: "Orders rejected, labeled by rejection reason.",
		}, []string{"reason"}),
		fillsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_fills_total",
			Help: "Fills produced by the matching engine.",
		}),
		walAppends: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_wal_appends_total",
			Help: "Write-ahead log entries appended by accepted orders, successful cancels and fund credits; entries journaled for rejected orders and ban sweeps are not counted.",
		}),
		walBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_wal_bytes_total",
			Help: "Bytes, header included, of the write-ahead log entries counted by nexus_wal_appends_total.",
		}),
	}
}

// Server owns every long-lived component and the HTTP gateway in front of
// them.
type Server struct {
	cfg        config.Config
	logger     *zap.Logger
	journal    *sentinel.Sentinel
	engine     *matching.Engine
	guardian   *guardian.Guardian
	exchange   *exchange.Exchange
	publisher  *marketdata.Publisher
	ringBuffer *disruptor.RingBuffer
	sequencer  *disruptor.Sequencer
	processor  *disruptor.EventProcessor
	httpServer *http.Server
	metrics    *serverMetrics
	registry   *prometheus.Registry
}

// NewServer wires every component together and performs WAL recovery before
// accepting any new request.
func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	journal, err := sentinel.Open(cfg.JournalPath, cfg.JournalCapacity)
	if err != nil {
		return nil, fmt.Errorf("server: open journal: %w", err)
	}

	engine := matching.New(cfg.RiskConfig())
	g := guardian.New(cfg.GuardianConfig(), logger.Named("guardian"))
	ex := exchange.New(engine, g, journal, logger.Named("exchange"))

	if err := ex.RecoverFromWAL(); err != nil {
		journal.Close()
		return nil, fmt.Errorf("server: recover from wal: %w", err)
	}

	rb := disruptor.NewRingBuffer(disruptor.DefaultConfig())
	seq := disruptor.NewSequencer(rb)
	proc := disruptor.NewEventProcessor(rb, ex, logger.Named("disruptor"))

	registry := prometheus.NewRegistry()

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		journal:    journal,
		engine:     engine,
		guardian:   g,
		exchange:   ex,
		publisher:  marketdata.NewPublisher(0),
		ringBuffer: rb,
		sequencer:  seq,
		processor:  proc,
		metrics:    newServerMetrics(registry),
		registry:   registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/order", s.handleOrder)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/book", s.handleBook)
	mux.HandleFunc("/account", s.handleAccount)
	mux.HandleFunc("/addfunds", s.handleAddFunds)
	mux.HandleFunc("/ban", s.handleBan)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/recover", s.handleRecover)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	return s, nil
}

// Start launches the disruptor consumer and then the HTTP listener. Only the
// listener runs in the errgroup; Start returns once the listener stops (after
// Shutdown, or with its error if it fails). The consumer is stopped
// separately by Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.processor.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Shutdown stops the HTTP listener, drains the disruptor, and closes the
// journal, in that order.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown error", zap.Error(err))
	}
	s.processor.Shutdown()
	s.publisher.Close()
	return s.journal.Close()
}

type orderRequestDTO struct {
	TraderID    uint64 `json:"trader_id"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Quantity    uint32 `json:"quantity"`
	OrderType   string `json:"order_type"`
	TimeInForce string `json:"time_in_force"`
}

type fillDTO struct {
	TradeID      uint64 `json:"trade_id"`
	MakerOrderID uint64 `json:"maker_order_id"`
	TakerOrderID uint64 `json:"taker_order_id"`
	Price        string `json:"price"`
	Quantity     uint32 `json:"quantity"`
}

type orderResponseDTO struct {
	OrderID    uint64    `json:"order_id"`
	Fills      []fillDTO `json:"fills"`
	RestingQty uint32    `json:"resting_qty"`
	STPCancels []uint64  `json:"stp_cancels"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req orderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	side, err := fixedpoint.SideFromString(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	price, err := fixedpoint.PriceFromStringDecimal(req.Price)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	orderType := matching.Limit
	if req.OrderType == "market" {
		orderType = matching.Market
	}
	tif := matching.GTC
	switch req.TimeInForce {
	case "ioc":
		tif = matching.IOC
	case "fok":
		tif = matching.FOK
	}

	respCh := make(chan disruptor.OrderResponse, 1)
	seqNum, err := s.sequencer.Next()
	if err != nil {
		http.Error(w, "exchange busy, try again", http.StatusServiceUnavailable)
		return
	}
	s.sequencer.Publish(seqNum, &disruptor.OrderRequest{
		Type:        disruptor.RequestTypeSubmitOrder,
		TraderID:    req.TraderID,
		Side:        side,
		Price:       price,
		Quantity:    fixedpoint.NewQuantity(req.Quantity),
		OrderType:   orderType,
		TimeInForce: tif,
		ResponseCh:  respCh,
	})

	select {
	case resp := <-respCh:
		if resp.Err != nil {
			s.metrics.ordersRejected.WithLabelValues(rejectLabel(resp.Err)).Inc()
			http.Error(w, resp.Err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.metrics.ordersAccepted.Inc()
		s.metrics.fillsTotal.Add(float64(len(resp.Result.Fills)))
		s.metrics.walAppends.Inc()
		s.metrics.walBytes.Add(float64(journalHeaderSize + newOrderPayloadSize))
		s.publishMarketData(resp.Result)
		writeJSON(w, toOrderResponseDTO(resp.Result))
	case <-time.After(5 * time.Second):
		http.Error(w, "timed out waiting for exchange", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	traderID, err := strconv.ParseUint(r.URL.Query().Get("trader_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trader_id", http.StatusBadRequest)
		return
	}
	orderID, err := strconv.ParseUint(r.URL.Query().Get("order_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order_id", http.StatusBadRequest)
		return
	}

	respCh := make(chan disruptor.OrderResponse, 1)
	seqNum, err := s.sequencer.Next()
	if err != nil {
		http.Error(w, "exchange busy, try again", http.StatusServiceUnavailable)
		return
	}
	s.sequencer.Publish(seqNum, &disruptor.OrderRequest{
		Type:       disruptor.RequestTypeCancelOrder,
		TraderID:   traderID,
		OrderID:    orderID,
		ResponseCh: respCh,
	})

	select {
	case resp := <-respCh:
		if resp.Err != nil {
			http.Error(w, resp.Err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.metrics.walAppends.Inc()
		s.metrics.walBytes.Add(float64(journalHeaderSize + orderCancelPayloadSize))
		writeJSON(w, map[string]bool{"cancelled": true})
	case <-time.After(5 * time.Second):
		http.Error(w, "timed out waiting for exchange", http.StatusGatewayTimeout)
	}
}

type levelDTO struct {
	Price      string `json:"price"`
	Qty        uint32 `json:"qty"`
	OrderCount int    `json:"order_count"`
}

// handleBook returns an L2 snapshot: aggregated price/qty/order-count per
// level, best first, on each side. ?depth=N limits each side to its N best
// levels; omitted or non-positive returns every resting level.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil {
			depth = d
		}
	}
	bids, asks := s.engine.Book().L2Snapshot(depth)
	toLevels := func(levels []orderbook.PriceLevelSnapshot) []levelDTO {
		out := make([]levelDTO, 0, len(levels))
		for _, l := range levels {
			out = append(out, levelDTO{Price: l.Price.String(), Qty: l.AggregatedQty.Raw(), OrderCount: l.OrderCount})
		}
		return out
	}
	writeJSON(w, map[string]interface{}{
		"bids": toLevels(bids),
		"asks": toLevels(asks),
	})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	traderID, err := strconv.ParseUint(r.URL.Query().Get("trader_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trader_id", http.StatusBadRequest)
		return
	}

	respCh := make(chan disruptor.OrderResponse, 1)
	seqNum, err := s.sequencer.Next()
	if err != nil {
		http.Error(w, "exchange busy, try again", http.StatusServiceUnavailable)
		return
	}
	s.sequencer.Publish(seqNum, &disruptor.OrderRequest{
		Type:       disruptor.RequestTypeBanTrader,
		TraderID:   traderID,
		ResponseCh: respCh,
	})

	select {
	case resp := <-respCh:
		writeJSON(w, map[string]interface{}{"cancelled_order_ids": resp.CancelledOrderIDs})
	case <-time.After(5 * time.Second):
		http.Error(w, "timed out waiting for exchange", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	traderID, err := strconv.ParseUint(r.URL.Query().Get("trader_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trader_id", http.StatusBadRequest)
		return
	}
	acct, ok := s.guardian.Account(traderID)
	if !ok {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"trader_id": acct.TraderID,
		"available": acct.Available.String(),
		"locked":    acct.Locked.String(),
		"position":  acct.Position,
		"banned":    acct.Banned,
	})
}

type addFundsDTO struct {
	TraderID uint64 `json:"trader_id"`
	Amount   string `json:"amount"`
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req addFundsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := fixedpoint.PriceFromStringDecimal(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.exchange.AddFunds(req.TraderID, amount); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.walAppends.Inc()
	s.metrics.walBytes.Add(float64(journalHeaderSize + addFundsPayloadSize))
	writeJSON(w, map[string]bool{"credited": true})
}

// Payload sizes mirror the compact journal layouts in
// internal/exchange/journal_codec.go: a journal header (25 bytes) plus the
// marshaled message body. These are distinct from (and smaller than) the
// internal/wire gateway record sizes, which carry a header and fields the
// journal never stores.
const (
	journalHeaderSize      = 25
	newOrderPayloadSize    = 17
	orderCancelPayloadSize = 12
	addFundsPayloadSize    = 12
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"resting_orders": s.engine.Book().TotalOrders(),
		"next_seq":       s.journal.NextSeq(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if err := s.exchange.RecoverFromWAL(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"recovered": true})
}

func (s *Server) publishMarketData(result *matching.MatchResult) {
	for _, fill := range result.Fills {
		s.publisher.PublishTrade(marketdata.TradeReport{
			TradeID:  fill.TradeID,
			Price:    fill.Price,
			Quantity: fill.Quantity,
			Side:     fill.TakerSide,
		})
	}
	bid, okB := s.engine.Book().BestBid()
	ask, okA := s.engine.Book().BestAsk()
	if okB || okA {
		quote := marketdata.L1Quote{BestBid: bid, BestAsk: ask}
		if lvl := s.engine.Book().Bids.Best(); lvl != nil {
			quote.BestBidQty = lvl.TotalQty
		}
		if lvl := s.engine.Book().Asks.Best(); lvl != nil {
			quote.BestAskQty = lvl.TotalQty
		}
		s.publisher.PublishL1(quote)
	}
}

func toOrderResponseDTO(result *matching.MatchResult) orderResponseDTO {
	fills := make([]fillDTO, 0, len(result.Fills))
	for _, f := range result.Fills {
		fills = append(fills, fillDTO{
			TradeID:      f.TradeID,
			MakerOrderID: f.MakerOrderID,
			TakerOrderID: f.TakerOrderID,
			Price:        f.Price.String(),
			Quantity:     f.Quantity.Raw(),
		})
	}
	return orderResponseDTO{
		OrderID:    result.OrderID,
		Fills:      fills,
		RestingQty: result.RestingQty.Raw(),
		STPCancels: result.STPCancels,
	}
}

func rejectLabel(err error) string {
	var mr matching.RejectReason
	if asRejectReason(err, &mr) {
		return fmt.Sprintf("matching_%d", mr.Code)
	}
	var gr guardian.GuardianReject
	if asGuardianReject(err, &gr) {
		return fmt.Sprintf("guardian_%d", gr.Code)
	}
	return "other"
}

func asRejectReason(err error, target *matching.RejectReason) bool {
	rr, ok := err.(matching.RejectReason)
	if ok {
		*target = rr
	}
	return ok
}

func asGuardianReject(err error, target *guardian.GuardianReject) bool {
	gr, ok := err.(guardian.GuardianReject)
	if ok {
		*target = gr
	}
	return ok
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	port := flag.Int("port", 8080, "HTTP listen port")
	journalPath := flag.String("journal", "nexus.journal", "path to the write-ahead log")
	journalCapacity := flag.Int("journal-capacity", 64<<20, "journal capacity in bytes")
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Port = *port
	cfg.JournalPath = *journalPath
	cfg.JournalCapacity = *journalCapacity

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
}
