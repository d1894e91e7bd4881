package builtin

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/wesleyorama2/swarm/internal/scenario"
)

// ErrOutOfStock is returned when a product cannot cover a reservation.
var ErrOutOfStock = errors.New("out of stock")

// Inventory reserves stock with WATCH/MULTI compare-and-swap and rolls back
// a share of its reservations.
type Inventory struct {
	scenario.Base
	sc         *scenario.Context
	client     *redis.Client
	products   int
	stock      int
	quantity   int
	retries    int
	cancelRate float64
	prefix     string
}

// NewInventory creates an inventory instance.
func NewInventory(sc *scenario.Context) (scenario.Instance, error) {
	inv := &Inventory{
		sc:       sc,
		products: sc.Int("products"),
		stock:    sc.Int("stock"),
		quantity: sc.Int("quantity"),
		retries:  sc.Int("retries"),
		prefix:   sc.String("prefix"),
	}
	switch v := sc.Schema.Params["cancelRate"].(type) {
	case float64:
		inv.cancelRate = v
	case int:
		inv.cancelRate = float64(v)
	}
	if inv.products <= 0 || inv.quantity <= 0 {
		return nil, fmt.Errorf("products and quantity must be positive")
	}
	if inv.retries <= 0 {
		inv.retries = 1
	}
	return inv, nil
}

func (inv *Inventory) stockKey(product int) string {
	return fmt.Sprintf("%s:stock:%d", inv.prefix, product)
}

func (inv *Inventory) reservationsKey(product int) string {
	return fmt.Sprintf("%s:reservations:%d", inv.prefix, product)
}

// GlobalSetup seeds the stock of every product.
func (inv *Inventory) GlobalSetup(ctx context.Context) error {
	client, err := dial(ctx, inv.sc)
	if err != nil {
		return err
	}
	defer release(inv.sc, client)

	pipe := client.Pipeline()
	for p := 0; p < inv.products; p++ {
		pipe.Set(ctx, inv.stockKey(p), inv.stock, 0)
		pipe.Del(ctx, inv.reservationsKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &scenario.WriteConcernError{Scenario: KindInventory, Op: "seed", Err: err}
	}
	return nil
}

// GlobalTeardown removes the seeded data.
func (inv *Inventory) GlobalTeardown(ctx context.Context) error {
	client, err := dial(ctx, inv.sc)
	if err != nil {
		return err
	}
	defer release(inv.sc, client)
	return deleteByPrefix(ctx, client, inv.prefix)
}

func (inv *Inventory) Setup(ctx context.Context) error {
	client, err := dial(ctx, inv.sc)
	if err != nil {
		return err
	}
	inv.client = client
	return nil
}

func (inv *Inventory) Teardown(context.Context) error {
	if inv.client == nil {
		return nil
	}
	return release(inv.sc, inv.client)
}

func (inv *Inventory) Execute(ctx context.Context) error {
	if inv.client == nil {
		return errNoTarget
	}
	product := rand.IntN(inv.products)
	id := fmt.Sprintf("%s-%d", inv.sc.Runtime.AgentID, rand.Int64())

	err := scenario.Measure(inv.sc.Services.Recorder, "inventory.reserve", func() error {
		return inv.Reserve(ctx, product, id)
	})
	if err != nil {
		return err
	}

	if inv.cancelRate > 0 && rand.Float64() < inv.cancelRate {
		return scenario.Measure(inv.sc.Services.Recorder, "inventory.cancel", func() error {
			return inv.Cancel(ctx, product, id)
		})
	}
	return nil
}

// Reserve takes quantity units of product for reservation id. The stock
// check and the decrement are one optimistic transaction.
func (inv *Inventory) Reserve(ctx context.Context, product int, id string) error {
	stockKey := inv.stockKey(product)
	resKey := inv.reservationsKey(product)

	txf := func(tx *redis.Tx) error {
		left, err := tx.Get(ctx, stockKey).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if left < inv.quantity {
			return ErrOutOfStock
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.DecrBy(ctx, stockKey, int64(inv.quantity))
			pipe.HSet(ctx, resKey, id, inv.quantity)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < inv.retries; attempt++ {
		err = inv.client.Watch(ctx, txf, stockKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOutOfStock):
		return err
	default:
		return &scenario.WriteConcernError{Scenario: KindInventory, Op: "reserve", Err: err}
	}
}

// Cancel returns a reservation's units to stock. Cancelling an unknown
// reservation is a no-op.
func (inv *Inventory) Cancel(ctx context.Context, product int, id string) error {
	stockKey := inv.stockKey(product)
	resKey := inv.reservationsKey(product)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, resKey, id).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.IncrBy(ctx, stockKey, int64(qty))
			pipe.HDel(ctx, resKey, id)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < inv.retries; attempt++ {
		err = inv.client.Watch(ctx, txf, resKey, stockKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return &scenario.WriteConcernError{Scenario: KindInventory, Op: "cancel", Err: err}
	}
	return nil
}
