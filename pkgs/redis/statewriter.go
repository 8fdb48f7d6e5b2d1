package redis

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/fosgate29/sale-box/pkgs/events"
	"github.com/fosgate29/sale-box/pkgs/sale"
)

const (
	// eventLogMax bounds the retained event history
	eventLogMax = 10000

	writeTimeout = 2 * time.Second
)

// StateWriter mirrors the sale's public read state into Redis so the
// status API and other reporting tooling can poll it without touching the
// engine. It subscribes to the event stream and re-reads the engine's
// state after each event; reads never mutate engine state.
type StateWriter struct {
	client *redis.Client
	keys   *KeyBuilder
	sale   *sale.Sale
}

// NewStateWriter creates a state writer for s.
func NewStateWriter(client *redis.Client, keys *KeyBuilder, s *sale.Sale) *StateWriter {
	return &StateWriter{client: client, keys: keys, sale: s}
}

// Handle mirrors state after an event. It matches events.Handler so it can
// be subscribed directly on an Emitter.
func (w *StateWriter) Handle(event *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	data, err := event.Marshal()
	if err == nil {
		pipe := w.client.Pipeline()
		pipe.LPush(ctx, w.keys.EventLog(), data)
		pipe.LTrim(ctx, w.keys.EventLog(), 0, eventLogMax-1)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warnf("Failed to append event log: %v", err)
		}
	}

	switch event.Type {
	case events.EventContributionReceived:
		if p, ok := event.Payload["participant"].(string); ok {
			deposited := w.sale.Vault().Deposited(common.HexToAddress(p))
			if err := w.client.HSet(ctx, w.keys.Deposits(), checksumAddress(p), deposited.String()).Err(); err != nil {
				log.Warnf("Failed to mirror deposit for %s: %v", p, err)
			}
		}
	case events.EventTokensAllocated:
		if p, ok := event.Payload["participant"].(string); ok {
			if amount, ok := event.Payload["amount"].(string); ok {
				if err := w.client.HSet(ctx, w.keys.Allocations(), checksumAddress(p), amount).Err(); err != nil {
					log.Warnf("Failed to mirror allocation for %s: %v", p, err)
				}
			}
		}
	case events.EventDisbursementScheduled:
		if b, ok := event.Payload["beneficiary"].(string); ok {
			if data, err := event.Marshal(); err == nil {
				if err := w.client.RPush(ctx, w.keys.Disbursements(b), data).Err(); err != nil {
					log.Warnf("Failed to mirror disbursement for %s: %v", b, err)
				}
			}
		}
	}

	w.Snapshot(ctx)
}

// Snapshot writes the current public read state.
func (w *StateWriter) Snapshot(ctx context.Context) {
	v := w.sale.Vault()

	saleFields := map[string]interface{}{
		"stage":          w.sale.CurrentStageID(),
		"weiContributed": w.sale.WeiContributed().String(),
		"totalSaleCap":   w.sale.TotalSaleCap().String(),
		"minThreshold":   w.sale.MinThreshold().String(),
		"owner":          w.sale.Owner().Hex(),
		"updatedAt":      time.Now().Unix(),
	}
	if tpw := w.sale.TokensPerWei(); tpw != nil {
		saleFields["tokensPerWei"] = tpw.String()
	}
	if endTime, ok := w.sale.EndTime(); ok {
		saleFields["endTime"] = endTime.Unix()
	}

	vaultFields := map[string]interface{}{
		"state":          v.State().String(),
		"totalDeposited": v.TotalDeposited().String(),
		"refundable":     v.Refundable().String(),
		"wallet":         v.Wallet().Hex(),
	}
	if deadline := v.ClosingDeadline(); !deadline.IsZero() {
		vaultFields["closingDeadline"] = deadline.Unix()
	}

	pipe := w.client.Pipeline()
	pipe.HSet(ctx, w.keys.SaleState(), saleFields)
	pipe.HSet(ctx, w.keys.VaultState(), vaultFields)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("Failed to mirror sale state: %v", err)
	}
}
