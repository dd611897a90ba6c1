package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-chainpay/app/chain"
	"github.com/vibast-solutions/ms-go-chainpay/app/classifier"
	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/factory"
)

// PollerStatus is the snapshot exposed on the admin surface.
type PollerStatus struct {
	Running    bool
	LastRunAt  time.Time
	LastHeight uint64
	LastTxID   string
	LagBlocks  uint64
}

type PollerConfig struct {
	Interval      time.Duration
	TickTimeout   time.Duration
	ReorgWindow   uint64
	GenesisHeight uint64
}

// Poller drives the poll loop: fetch ordered ledger events after the durable
// cursor, detect reorgs, apply batches through the reconciliation engine and
// advance the cursor in the same transaction. Exactly one poller instance may
// run against a store; it is the sole owner of ChainCursor mutation.
type Poller struct {
	chainClient chain.Client
	classify    *classifier.Classifier
	engine      *ReconcileService
	tx          TxRunner
	cfg         PollerConfig
	logger      logrus.FieldLogger

	mu         sync.Mutex
	running    bool
	lastRunAt  time.Time
	lastHeight uint64
	lastTxID   string
	lagBlocks  uint64
	cancelTick context.CancelFunc

	kick chan struct{}
}

func NewPoller(chainClient chain.Client, classify *classifier.Classifier, engine *ReconcileService, tx TxRunner, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 20 * time.Second
	}
	if cfg.ReorgWindow == 0 {
		cfg.ReorgWindow = 6
	}
	return &Poller{
		chainClient: chainClient,
		classify:    classify,
		engine:      engine,
		tx:          tx,
		cfg:         cfg,
		logger:      factory.NewModuleLogger("poller"),
		kick:        make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
// Tick failures are logged and the loop keeps going; no single bad batch
// stops polling.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runTick(ctx)
		case <-p.kick:
			p.runTick(ctx)
		}
	}
}

// Restart cancels the in-flight tick, if any, and schedules an immediate
// tick. The cancelled batch was not committed, so the next tick resumes from
// the last durable cursor.
func (p *Poller) Restart() {
	p.mu.Lock()
	cancel := p.cancelTick
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PollerStatus{
		Running:    p.running,
		LastRunAt:  p.lastRunAt,
		LastHeight: p.lastHeight,
		LastTxID:   p.lastTxID,
		LagBlocks:  p.lagBlocks,
	}
}

func (p *Poller) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, p.cfg.TickTimeout)
	p.mu.Lock()
	p.cancelTick = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		p.cancelTick = nil
		p.lastRunAt = time.Now().UTC()
		p.mu.Unlock()
	}()

	if err := p.tick(tickCtx); err != nil {
		switch {
		case errors.Is(err, chain.ErrTransientFetch):
			p.logger.WithError(err).Warn("Transient ledger fetch failure, will retry next tick")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			p.logger.WithError(err).Warn("Tick abandoned without advancing cursor")
		default:
			p.logger.WithError(err).Error("Poll tick failed")
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	cursor, err := p.loadCursor(ctx)
	if err != nil {
		return err
	}

	page, err := p.chainClient.Events(ctx, cursor.LastHeight, cursor.LastTxID)
	if err != nil {
		return err
	}

	if p.isReorg(cursor, page) {
		rewound := p.rewind(cursor)
		p.logger.WithError(ErrReorgDetected).WithFields(logrus.Fields{
			"from_height": cursor.LastHeight,
			"to_height":   rewound.LastHeight,
		}).Warn("ReorgDetected: cursor rewound, reprocessing range")

		// The rewound cursor and the rollback of the abandoned fork's
		// provisional state commit as one unit; nothing staged above the
		// rewound height survives to confirm later.
		if err := p.tx.InTx(ctx, func(ctx context.Context, s *TxStores) error {
			if err := p.engine.RollbackOrphaned(ctx, s, rewound.LastHeight); err != nil {
				return err
			}
			return s.Cursor.Save(ctx, rewound)
		}); err != nil {
			return err
		}
		cursor = rewound

		// Refetch from the rewound height; replayed events are deduped or
		// superseded inside the engine.
		page, err = p.chainClient.Events(ctx, cursor.LastHeight, cursor.LastTxID)
		if err != nil {
			return err
		}
	}

	if err := p.applyBatch(ctx, cursor, page); err != nil {
		return err
	}

	// Confirmation depth is re-evaluated every tick even when no new events
	// arrived: the tip moving is what buries staged transitions.
	if err := p.tx.InTx(ctx, func(ctx context.Context, s *TxStores) error {
		_, err := p.engine.ConfirmStaged(ctx, s, page.TipHeight)
		return err
	}); err != nil {
		return err
	}

	p.mu.Lock()
	if len(page.Events) > 0 {
		last := page.Events[len(page.Events)-1]
		p.lastHeight = last.BlockHeight
		p.lastTxID = last.TxID
	} else {
		p.lastHeight = cursor.LastHeight
		p.lastTxID = cursor.LastTxID
	}
	if page.TipHeight > p.lastHeight {
		p.lagBlocks = page.TipHeight - p.lastHeight
	} else {
		p.lagBlocks = 0
	}
	p.mu.Unlock()

	return nil
}

func (p *Poller) applyBatch(ctx context.Context, cursor *entity.ChainCursor, page *chain.EventsPage) error {
	if len(page.Events) == 0 {
		return nil
	}

	return p.tx.InTx(ctx, func(ctx context.Context, s *TxStores) error {
		for _, raw := range page.Events {
			event, err := p.classify.Classify(raw)
			if err != nil {
				if errors.Is(err, classifier.ErrInvalidEventPayload) {
					p.logger.WithError(err).WithFields(logrus.Fields{
						"tx_id":        raw.TxID,
						"block_height": raw.BlockHeight,
					}).Warn("InvalidEventPayload: event skipped")
					continue
				}
				return err
			}
			if err := p.engine.ApplyEvent(ctx, s, event); err != nil {
				return err
			}
		}

		last := page.Events[len(page.Events)-1]
		return s.Cursor.Save(ctx, &entity.ChainCursor{
			LastHeight:    last.BlockHeight,
			LastTxID:      last.TxID,
			LastBlockHash: last.BlockHash,
			UpdatedAt:     time.Now().UTC(),
		})
	})
}

// A reorg shows as the first fetched block claiming a different parent than
// the block the cursor last committed. The check only binds when the fetched
// batch starts at the very next height; gaps cannot be linked either way.
func (p *Poller) isReorg(cursor *entity.ChainCursor, page *chain.EventsPage) bool {
	if cursor.LastBlockHash == "" || len(page.Events) == 0 {
		return false
	}
	first := page.Events[0]
	if first.ParentHash == "" || first.BlockHeight != cursor.LastHeight+1 {
		return false
	}
	return first.ParentHash != cursor.LastBlockHash
}

func (p *Poller) rewind(cursor *entity.ChainCursor) *entity.ChainCursor {
	height := p.cfg.GenesisHeight
	if cursor.LastHeight > p.cfg.ReorgWindow+p.cfg.GenesisHeight {
		height = cursor.LastHeight - p.cfg.ReorgWindow
	}
	return &entity.ChainCursor{
		LastHeight: height,
		UpdatedAt:  time.Now().UTC(),
	}
}

func (p *Poller) loadCursor(ctx context.Context) (*entity.ChainCursor, error) {
	var cursor *entity.ChainCursor
	err := p.tx.InTx(ctx, func(ctx context.Context, s *TxStores) error {
		loaded, err := s.Cursor.Load(ctx)
		if err != nil {
			return err
		}
		cursor = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		cursor = &entity.ChainCursor{LastHeight: p.cfg.GenesisHeight}
	}
	return cursor, nil
}
