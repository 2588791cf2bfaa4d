package tedapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/pkg/common"
	"github.com/gatewatch/gatewatch/pkg/log"
	"github.com/gatewatch/gatewatch/pkg/types"
	"github.com/gatewatch/gatewatch/pkg/vitals"
)

// Client is the produced surface of this library: Poll for individual
// queries, Vitals for the canonical per-device telemetry record. One
// Client owns one transport and one request executor; embed it by
// reference wherever a polling loop or server needs it.
type Client struct {
	transport Transport
	exec      *requestExecutor
	host      string

	mu  sync.Mutex
	din types.DIN
}

// NewClient wraps a transport. host is only used to stamp vitals records.
func NewClient(transport Transport, host string) *Client {
	return &Client{
		transport: transport,
		exec:      newRequestExecutor(defaultLockTimeout),
		host:      host,
	}
}

// ensureConnected reports whether the gateway DIN is known, attempting one
// reconnect if it is not. A failed reconnect means "no data this cycle",
// never an error. A rate-limited connect opens the same cooldown as a
// rate-limited fetch, and no reconnect is attempted while it is open.
func (c *Client) ensureConnected(ctx context.Context) bool {
	c.mu.Lock()
	din := c.din
	c.mu.Unlock()
	if din.Valid() {
		return true
	}
	if c.exec.cooldownActive() {
		log.Ctx(ctx).DebugContext(ctx, "cooldown active, skipping reconnect")
		return false
	}
	d, err := c.transport.Connect(ctx)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			log.Ctx(ctx).WarnContext(ctx, "gateway rate limit hit during connect, entering cooldown",
				slog.Duration("cooldown", rateLimitCooldown), slog.Any("error", err))
			c.exec.startCooldown(rateLimitCooldown)
		} else {
			log.Ctx(ctx).WarnContext(ctx, "gateway not reachable", slog.Any("error", err))
		}
		return false
	}
	c.mu.Lock()
	c.din = d
	c.mu.Unlock()
	return true
}

// DIN returns the gateway's DIN, connecting if necessary. An empty DIN
// with a nil error means the gateway is unreachable right now.
func (c *Client) DIN(ctx context.Context) (types.DIN, error) {
	if !c.ensureConnected(ctx) {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.din, nil
}

func (c *Client) fetch(ctx context.Context, kind QueryKind, scope types.DIN, force bool, fn func(context.Context) (any, error)) (any, error) {
	if !c.ensureConnected(ctx) {
		return nil, nil
	}
	return c.exec.fetch(ctx, kind.cacheKey(scope), kind.ttl(), force, fn)
}

// Config fetches and parses the site configuration. Malformed embedded
// JSON is logged and surfaced as nil, never an error.
func (c *Client) Config(ctx context.Context, force bool) (*vitals.Config, error) {
	v, err := c.fetch(ctx, QueryConfig, "", force, func(ctx context.Context) (any, error) {
		env, err := c.transport.Do(ctx, QueryConfig, "")
		if err != nil {
			return nil, err
		}
		text, ok := env.ConfigText()
		if !ok {
			return nil, fmt.Errorf("tedapi: config response carried no payload")
		}
		var cfg vitals.Config
		if err := json.Unmarshal([]byte(text), &cfg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "malformed config payload", slog.Any("error", err))
			return nil, nil
		}
		return &cfg, nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*vitals.Config), nil
}

func (c *Client) statusQuery(ctx context.Context, kind QueryKind, force bool) (*vitals.Status, error) {
	v, err := c.fetch(ctx, kind, "", force, func(ctx context.Context) (any, error) {
		env, err := c.transport.Do(ctx, kind, "")
		if err != nil {
			return nil, err
		}
		text, ok := env.QueryReply()
		if !ok {
			return nil, fmt.Errorf("tedapi: %s response carried no payload", kind)
		}
		var st vitals.Status
		if err := json.Unmarshal([]byte(text), &st); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "malformed status payload",
				slog.String("query", kind.String()), slog.Any("error", err))
			return nil, nil
		}
		return &st, nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*vitals.Status), nil
}

// Status fetches the system status summary.
func (c *Client) Status(ctx context.Context, force bool) (*vitals.Status, error) {
	return c.statusQuery(ctx, QueryStatus, force)
}

// DeviceController fetches the full device-controller tree, the raw input
// of Vitals.
func (c *Client) DeviceController(ctx context.Context, force bool) (*vitals.Status, error) {
	return c.statusQuery(ctx, QueryDeviceController, force)
}

func (c *Client) componentsQuery(ctx context.Context, kind QueryKind, scope types.DIN, force bool) (*vitals.ComponentsTree, error) {
	v, err := c.fetch(ctx, kind, scope, force, func(ctx context.Context) (any, error) {
		env, err := c.transport.Do(ctx, kind, scope)
		if err != nil {
			return nil, err
		}
		text, ok := env.ComponentsReply()
		if !ok {
			return nil, fmt.Errorf("tedapi: %s response carried no payload", kind)
		}
		var tree vitals.ComponentsTree
		if err := json.Unmarshal([]byte(text), &tree); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "malformed components payload",
				slog.String("scope", scope.String()), slog.Any("error", err))
			return nil, nil
		}
		return &tree, nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*vitals.ComponentsTree), nil
}

// Components fetches the gateway-wide component signal lists (newer
// hardware only).
func (c *Client) Components(ctx context.Context, force bool) (*vitals.ComponentsTree, error) {
	return c.componentsQuery(ctx, QueryComponents, "", force)
}

// BatteryComponents fetches the component signal lists of one battery
// block. Each battery gets its own cache slot.
func (c *Client) BatteryComponents(ctx context.Context, din types.DIN, force bool) (*vitals.ComponentsTree, error) {
	return c.componentsQuery(ctx, QueryBatteryComponents, din, force)
}

// Firmware fetches the firmware identity, including any wireless-radio
// sub-devices.
func (c *Client) Firmware(ctx context.Context, force bool) (*FirmwarePayload, error) {
	v, err := c.fetch(ctx, QueryFirmware, "", force, func(ctx context.Context) (any, error) {
		env, err := c.transport.Do(ctx, QueryFirmware, "")
		if err != nil {
			return nil, err
		}
		if env.Firmware == nil {
			return nil, fmt.Errorf("tedapi: firmware response carried no payload")
		}
		return env.Firmware, nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*FirmwarePayload), nil
}

// Poll runs one query by kind. A nil result with a nil error means "no
// data this cycle" (cooldown, unreachable gateway, or unparseable
// payload); polling loops should just try again next cycle.
func (c *Client) Poll(ctx context.Context, kind QueryKind, force bool) (any, error) {
	switch kind {
	case QueryDin:
		din, err := c.DIN(ctx)
		if err != nil || !din.Valid() {
			return nil, err
		}
		return din, nil
	case QueryConfig:
		return anyOrNil(c.Config(ctx, force))
	case QueryStatus:
		return anyOrNil(c.Status(ctx, force))
	case QueryDeviceController:
		return anyOrNil(c.DeviceController(ctx, force))
	case QueryComponents:
		return anyOrNil(c.Components(ctx, force))
	case QueryFirmware:
		return anyOrNil(c.Firmware(ctx, force))
	default:
		return nil, fmt.Errorf("tedapi: cannot poll %s without a scope", kind)
	}
}

// anyOrNil keeps a nil typed pointer from turning into a non-nil any.
func anyOrNil[T any](v *T, err error) (any, error) {
	if v == nil || err != nil {
		return nil, err
	}
	return v, nil
}

// Vitals recomputes the canonical vitals record from fresh (or cached) raw
// telemetry. It carries no state between calls; per-battery sub-queries
// are individually cached by the executor.
func (c *Client) Vitals(ctx context.Context) (vitals.Record, error) {
	cfg, err := c.Config(ctx, false)
	if err != nil {
		return nil, err
	}
	st, err := c.DeviceController(ctx, false)
	if err != nil {
		return nil, err
	}
	if cfg == nil || st == nil {
		return nil, nil
	}

	trees := make(map[types.DIN]*vitals.ComponentsTree)
	if c.transport.NewGeneration() {
		for _, block := range cfg.BatteryBlocks {
			if !block.IsNamedSignal() {
				continue
			}
			tree, err := c.BatteryComponents(ctx, block.DIN(), false)
			if err != nil || tree == nil {
				log.Ctx(ctx).DebugContext(ctx, "battery components unavailable",
					slog.String("din", block.DIN().String()), slog.Any("error", err))
				continue
			}
			trees[block.DIN()] = tree
		}
	}

	return vitals.Translate(cfg, st, trees, vitals.Meta{
		GeneratedAt: time.Now(),
		Host:        c.host,
		Version:     common.Version(),
	}), nil
}
