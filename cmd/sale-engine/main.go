package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/fosgate29/sale-box/config"
	"github.com/fosgate29/sale-box/pkgs/events"
	"github.com/fosgate29/sale-box/pkgs/funds"
	"github.com/fosgate29/sale-box/pkgs/metrics"
	saleredis "github.com/fosgate29/sale-box/pkgs/redis"
	"github.com/fosgate29/sale-box/pkgs/sale"
	"github.com/fosgate29/sale-box/pkgs/vault"
	"github.com/fosgate29/sale-box/pkgs/whitelist"
)

func main() {
	paramsPath := flag.String("params", "campaign.json", "path to the campaign parameter file")
	flag.Parse()

	settings := config.LoadSettings()

	params, err := config.LoadCampaignParams(*paramsPath)
	if err != nil {
		log.Fatalf("Failed to load campaign parameters: %v", err)
	}

	emitter := events.NewEmitter(&events.EmitterConfig{
		BufferSize:     settings.EventBufferSize,
		EventTimeout:   events.DefaultEventTimeout,
		DropOnOverflow: true,
		Campaign:       params.SaleName,
	})
	if err := emitter.Start(); err != nil {
		log.Fatalf("Failed to start event emitter: %v", err)
	}
	defer emitter.Stop()

	ledger := funds.NewLedger()

	wl, err := whitelist.New(common.HexToAddress(params.WhitelistAdmin))
	if err != nil {
		log.Fatalf("Failed to create whitelist: %v", err)
	}

	plans := make([]sale.DisbursementPlan, 0, len(params.Disbursements))
	for _, d := range params.Disbursements {
		plans = append(plans, sale.DisbursementPlan{
			Beneficiary: common.HexToAddress(d.Beneficiary),
			Amount:      config.Amount(d.Amount),
			Delay:       time.Duration(d.DelaySecs) * time.Second,
		})
	}

	engine, err := sale.New(sale.Config{
		Owner:                   common.HexToAddress(params.Owner),
		TotalSaleCap:            config.Amount(params.TotalSaleCap),
		MinContribution:         config.Amount(params.MinContribution),
		MinThreshold:            config.Amount(params.MinThreshold),
		MaxTokens:               config.Amount(params.MaxTokens),
		Wallet:                  common.HexToAddress(params.Wallet),
		ClosingDuration:         time.Duration(params.ClosingDurationSecs) * time.Second,
		VaultInitialAmount:      config.Amount(params.VaultInitialAmount),
		VaultDisbursementAmount: config.Amount(params.VaultDisbursementAmount),
		DisbursementInterval:    time.Duration(params.DisbursementIntervalSecs) * time.Second,
		StartTime:               time.Unix(params.StartTimeUnix, 0),
		Disbursements:           plans,
		Whitelist:               wl,
		Ledger:                  ledger,
		Emitter:                 emitter,
	})
	if err != nil {
		log.Fatalf("Failed to create sale: %v", err)
	}

	if settings.PublishEvents {
		client, err := saleredis.NewClient(saleredis.ClientConfig{
			Host:     settings.RedisHost,
			Port:     settings.RedisPort,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		if err != nil {
			log.Warnf("Redis unavailable, running without event publishing: %v", err)
		} else {
			publisher, err := events.NewPublisher(&events.PublisherConfig{
				RedisClient: client,
				Campaign:    params.SaleName,
			})
			if err != nil {
				log.Fatalf("Failed to create event publisher: %v", err)
			}
			emitter.Subscribe("redis-publisher", publisher.Handle)

			writer := saleredis.NewStateWriter(client, saleredis.NewKeyBuilder(params.SaleName), engine)
			emitter.Subscribe("state-mirror", writer.Handle)
			writer.Snapshot(context.Background())
		}
	}

	router := buildRouter(engine, ledger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.APIPort),
		Handler: router,
	}

	go func() {
		log.Infof("Sale engine API listening on :%d", settings.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("API shutdown failed: %v", err)
	}
}

type contributeRequest struct {
	Participant       string `json:"participant" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
	ContributionLimit string `json:"contributionLimit" binding:"required"`
	SaleCap           string `json:"saleCap" binding:"required"`
	Signature         string `json:"signature" binding:"required"`
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

func buildRouter(engine *sale.Sale, ledger *funds.Ledger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.GET("/sale", func(c *gin.Context) {
		resp := gin.H{
			"stage":          engine.CurrentStageID(),
			"weiContributed": engine.WeiContributed().String(),
			"totalSaleCap":   engine.TotalSaleCap().String(),
			"minThreshold":   engine.MinThreshold().String(),
			"tokensForSale":  engine.TokensForSale().String(),
			"owner":          engine.Owner().Hex(),
			"startTime":      engine.StartTime().Unix(),
		}
		if tpw := engine.TokensPerWei(); tpw != nil {
			resp["tokensPerWei"] = tpw.String()
		}
		if endTime, ok := engine.EndTime(); ok {
			resp["endTime"] = endTime.Unix()
		}
		c.JSON(http.StatusOK, resp)
	})

	api.GET("/vault", func(c *gin.Context) {
		v := engine.Vault()
		resp := gin.H{
			"state":          v.State().String(),
			"totalDeposited": v.TotalDeposited().String(),
			"refundable":     v.Refundable().String(),
			"wallet":         v.Wallet().Hex(),
		}
		if deadline := v.ClosingDeadline(); !deadline.IsZero() {
			resp["closingDeadline"] = deadline.Unix()
		}
		c.JSON(http.StatusOK, resp)
	})

	api.GET("/deposits/:address", func(c *gin.Context) {
		addr, ok := parseAddress(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"address":   addr.Hex(),
			"deposited": engine.Vault().Deposited(addr).String(),
			"allocated": engine.Allocated(addr),
			"balance":   ledger.Balance(addr).String(),
			"tokens":    engine.Token().BalanceOf(addr).String(),
		})
	})

	api.GET("/disbursements/:address", func(c *gin.Context) {
		addr, ok := parseAddress(c)
		if !ok {
			return
		}
		list := engine.DisbursementHandler().Disbursements(addr)
		out := make([]gin.H, 0, len(list))
		for _, d := range list {
			out = append(out, gin.H{
				"amount":     d.Amount.String(),
				"unlockTime": d.UnlockTime.Unix(),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"beneficiary": addr.Hex(),
			"tranches":    out,
			"withdrawn":   engine.DisbursementHandler().WithdrawnAmount(addr).String(),
		})
	})

	api.POST("/transitions", func(c *gin.Context) {
		engine.ConditionalTransitions()
		c.JSON(http.StatusOK, gin.H{"stage": engine.CurrentStageID()})
	})

	api.POST("/contribute", func(c *gin.Context) {
		var req contributeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !common.IsHexAddress(req.Participant) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant address"})
			return
		}
		amount, ok1 := new(big.Int).SetString(req.Amount, 10)
		limit, ok2 := new(big.Int).SetString(req.ContributionLimit, 10)
		saleCap, ok3 := new(big.Int).SetString(req.SaleCap, 10)
		if !ok1 || !ok2 || !ok3 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		sig, err := whitelist.ParseSignature(req.Signature)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature encoding"})
			return
		}

		accepted, excess, err := engine.Contribute(common.HexToAddress(req.Participant), amount, limit, saleCap, sig)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"value":  accepted.String(),
			"excess": excess.String(),
		})
	})

	api.POST("/allocate", func(c *gin.Context) {
		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.Address) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant address"})
			return
		}
		amount, err := engine.AllocateTokens(common.HexToAddress(req.Address))
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount": amount.String()})
	})

	api.POST("/refund", func(c *gin.Context) {
		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.Address) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contributor address"})
			return
		}
		amount, err := engine.Vault().Refund(common.HexToAddress(req.Address))
		if err != nil {
			if err == vault.ErrWrongState {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount": amount.String()})
	})

	api.POST("/withdraw", func(c *gin.Context) {
		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(req.Address) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid beneficiary address"})
			return
		}
		amount, err := engine.DisbursementHandler().Withdraw(common.HexToAddress(req.Address))
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount": amount.String()})
	})

	return router
}

func parseAddress(c *gin.Context) (common.Address, bool) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
