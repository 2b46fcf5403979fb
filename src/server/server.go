package server

import (
	"fmt"
	"sync"
	"time"

	"aggr-server/src/helpers"
	"aggr-server/src/interfaces"
	"aggr-server/src/logger"
	"aggr-server/src/models"
	"aggr-server/src/utils"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Server owns all shared aggregation state: the connection registry, the
// pending persistence chunk, the aggregation map and the broadcast queues.
// Every mutation path is serialized by mu (single-writer discipline).
// -----------------------------------------------------------------------------

type Server struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine

	exchanges map[string]interfaces.IExchange
	storages  []interfaces.IStorage
	memory    *utils.MemoryManager

	mu                  sync.Mutex
	connections         map[string]*models.MConnection
	indexedProducts     map[string]*models.MProduct
	connectedExchanges  map[string]bool
	chunk               []models.MTrade
	aggregating         map[string]*openTrade
	aggregated          []models.MTrade
	delayedForBroadcast []models.MTrade

	// WebSocket clients
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan interface{}

	// Policy state
	bannedIPs map[string]struct{}
	banMu     sync.RWMutex
	limiter   *rateLimiter

	backupTimer *time.Timer
	timerMu     sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewServer(cfg *models.MConfig, log *logger.Logger, exchanges []interfaces.IExchange, storages []interfaces.IStorage) *Server {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		Config:             cfg,
		Logger:             log,
		engine:             gin.Default(),
		exchanges:          make(map[string]interfaces.IExchange),
		storages:           storages,
		memory:             utils.NewMemoryManager(helpers.GetRecommendedMemoryLimit()),
		connections:        make(map[string]*models.MConnection),
		indexedProducts:    make(map[string]*models.MProduct),
		connectedExchanges: make(map[string]bool),
		aggregating:        make(map[string]*openTrade),
		clients:            make(map[*Client]struct{}),
		// Buffered channel to prevent the dispatcher from blocking on the hub
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bannedIPs:  make(map[string]struct{}),
		done:       make(chan struct{}),
	}

	for _, ex := range exchanges {
		s.exchanges[ex.ID()] = ex
	}

	if cfg.EnableRateLimit {
		s.limiter = newRateLimiter(time.Duration(cfg.RateLimitTimeWindow)*time.Millisecond, cfg.RateLimitMax)
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.policyMiddleware(), func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "hi"})
	})

	s.engine.GET("/historical/:from/:to", s.policyMiddleware(), s.rateLimitMiddleware(), s.getHistorical)
	s.engine.GET("/historical/:from/:to/:timeframe", s.policyMiddleware(), s.rateLimitMiddleware(), s.getHistorical)
	s.engine.GET("/historical/:from/:to/:timeframe/:markets", s.policyMiddleware(), s.rateLimitMiddleware(), s.getHistorical)

	// WebSocket endpoint; the path tail is the initial pair subscription
	s.engine.GET("/ws/*pairs", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start connects storages, launches the hub, the periodic tasks and the HTTP
// listener, then instructs every exchange adapter to connect its pairs.
func (s *Server) Start() error {
	// Storages first; trades must have somewhere to go before feeds open
	for _, st := range s.storages {
		if err := helpers.RetryWithBackoff(s.Logger, "storage "+st.Name()+" connect", 3, time.Second, st.Connect); err != nil {
			return fmt.Errorf("storage %s failed to connect: %w", st.Name(), err)
		}
	}

	s.Logger.Info("Memory budget set to %d MB", s.memory.MaxMemoryMB)

	s.loadBannedIPs()
	if err := s.watchBannedIPs(); err != nil {
		s.Logger.Warning("Banned IP watcher unavailable: %v", err)
	}

	s.wg.Add(1)
	go s.runHub()

	if s.Config.Broadcast && (s.Config.BroadcastAggr || s.Config.BroadcastDebounce > 0) {
		s.wg.Add(1)
		go s.runBroadcastLoop()
	}

	if s.Config.Collect {
		s.wg.Add(1)
		go s.runMonitor()

		if len(s.storages) > 0 {
			s.scheduleBackup()
		}
	}

	if s.Config.API || s.Config.Broadcast {
		addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
		s.Logger.Info("Starting server on %s", addr)
		go func() {
			if err := s.engine.Run(addr); err != nil {
				s.Logger.Error("HTTP listener stopped: %v", err)
			}
		}()
	}

	// Connect upstream feeds
	pairsByExchange := s.groupPairs()
	for id, pairs := range pairsByExchange {
		ex, ok := s.exchanges[id]
		if !ok {
			s.Logger.Error("No adapter registered for exchange %s", id)
			continue
		}
		if err := ex.GetProductsAndConnect(pairs); err != nil {
			s.Logger.Error("Exchange %s failed to connect: %v", id, err)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Stop cancels the periodic tasks and the hub, runs the final flush awaiting
// every storage, waits for the tasks to exit, then closes the storages. The
// hub closes the client sockets as soon as it sees the cancellation, so they
// may close before the final flush completes.
func (s *Server) Stop() error {
	close(s.done)

	s.timerMu.Lock()
	if s.backupTimer != nil {
		s.backupTimer.Stop()
	}
	s.timerMu.Unlock()

	if s.Config.Collect && len(s.storages) > 0 {
		s.backupTrades(true)
	}

	// The hub closes every client socket on its way out
	s.wg.Wait()

	for _, st := range s.storages {
		if err := st.Close(); err != nil {
			s.Logger.Error("Storage %s failed to close: %v", st.Name(), err)
		}
	}

	s.Logger.Info("Shutdown complete.")
	return nil
}

// -----------------------------------------------------------------------------

// groupPairs splits the configured "EXCHANGE:pair" list per exchange.
func (s *Server) groupPairs() map[string][]string {
	grouped := make(map[string][]string)
	for _, market := range s.Config.Pairs {
		exchange, pair, ok := models.SplitMarket(market)
		if !ok {
			s.Logger.Warning("Ignoring malformed pair '%s'", market)
			continue
		}
		grouped[exchange] = append(grouped[exchange], pair)
	}
	return grouped
}

// -----------------------------------------------------------------------------
// Adapter lifecycle events (IEventSink)
// -----------------------------------------------------------------------------

func (s *Server) OnIndex(exchangeID string, pairs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pair := range pairs {
		product, ok := s.indexedProducts[pair]
		if !ok {
			product = &models.MProduct{Value: pair}
			s.indexedProducts[pair] = product
		}
		if !containsString(product.Exchanges, exchangeID) {
			product.Exchanges = append(product.Exchanges, exchangeID)
			product.Count++
		}
	}
}

// -----------------------------------------------------------------------------

func (s *Server) OnOpen(exchangeID string) {
	s.mu.Lock()
	s.connectedExchanges[exchangeID] = true
	s.mu.Unlock()

	s.Logger.Info("Exchange %s connected", exchangeID)
	if s.Config.Broadcast {
		s.broadcastJSON(models.MExchangeEvent{Type: "exchange_connected", Exchange: exchangeID})
	}
}

// -----------------------------------------------------------------------------

func (s *Server) OnError(exchangeID string, message string) {
	s.Logger.Error("Exchange %s error: %s", exchangeID, message)
	if s.Config.Broadcast {
		s.broadcastJSON(models.MExchangeEvent{Type: "exchange_error", Exchange: exchangeID, Message: message})
	}
}

// -----------------------------------------------------------------------------

func (s *Server) OnClose(exchangeID string) {
	s.mu.Lock()
	delete(s.connectedExchanges, exchangeID)
	s.mu.Unlock()

	s.Logger.Info("Exchange %s disconnected", exchangeID)
	if s.Config.Broadcast {
		s.broadcastJSON(models.MExchangeEvent{Type: "exchange_disconnected", Exchange: exchangeID})
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
