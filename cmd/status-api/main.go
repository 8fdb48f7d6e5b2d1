package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fosgate29/sale-box/config"
)

var log = logrus.New()

// StatusAPI serves the campaign's public read state out of the Redis
// mirror maintained by the engine's state writer. It never touches the
// engine itself.
type StatusAPI struct {
	redis    *redis.Client
	campaign string
}

func NewStatusAPI(client *redis.Client, campaign string) *StatusAPI {
	return &StatusAPI{redis: client, campaign: campaign}
}

func (api *StatusAPI) key(suffix string) string {
	return fmt.Sprintf("sale:%s:%s", api.campaign, suffix)
}

func (api *StatusAPI) getSummary(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	saleState, err := api.redis.HGetAll(ctx, api.key("state")).Result()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	vaultState, err := api.redis.HGetAll(ctx, api.key("vault")).Result()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign":  api.campaign,
		"sale":      saleState,
		"vault":     vaultState,
		"timestamp": time.Now().UTC(),
	})
}

func (api *StatusAPI) getDeposits(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deposits, err := api.redis.HGetAll(ctx, api.key("deposits")).Result()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": deposits, "count": len(deposits)})
}

func (api *StatusAPI) getAllocations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	allocations, err := api.redis.HGetAll(ctx, api.key("allocations")).Result()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocations, "count": len(allocations)})
}

func (api *StatusAPI) getEvents(c *gin.Context) {
	limit := int64(100)
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	raw, err := api.redis.LRange(ctx, api.key("events"), 0, limit-1).Result()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	parsed := make([]json.RawMessage, 0, len(raw))
	for _, item := range raw {
		parsed = append(parsed, json.RawMessage(item))
	}
	c.JSON(http.StatusOK, gin.H{"events": parsed, "count": len(parsed)})
}

func main() {
	settings := config.LoadSettings()

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", settings.RedisHost, settings.RedisPort),
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	api := NewStatusAPI(client, settings.CampaignName)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.GET("/summary", api.getSummary)
	v1.GET("/deposits", api.getDeposits)
	v1.GET("/allocations", api.getAllocations)
	v1.GET("/events", api.getEvents)

	addr := fmt.Sprintf(":%d", settings.StatusAPIPort)
	log.Infof("Status API listening on %s for campaign %q", addr, settings.CampaignName)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Status API failed: %v", err)
	}
}
