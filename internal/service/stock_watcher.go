package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"aquastore/internal/config"
	"aquastore/internal/domain"
	"aquastore/internal/mailer"
	"aquastore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockWatcher reacts to product stock writes and raises a low-stock alert
// when a write crosses the threshold from above. The crossing decision is
// derived purely from the previous/new pair carried by each StockChange, so a
// product that sits at or below the threshold across several writes alerts
// only once, on the transition into the low-stock band.
type StockWatcher struct {
	threshold int
	repo      repository.NotificationRepository
	mail      mailer.Mailer
	emailCfg  config.EmailJSConfig
	operator  string
	logger    *zap.Logger
}

// NewStockWatcher creates a new StockWatcher. mail may be nil to disable the
// email side effect.
func NewStockWatcher(
	cfg config.LowStockConfig,
	repo repository.NotificationRepository,
	mail mailer.Mailer,
	emailCfg config.EmailJSConfig,
	operatorEmail string,
	logger *zap.Logger,
) *StockWatcher {
	return &StockWatcher{
		threshold: cfg.Threshold,
		repo:      repo,
		mail:      mail,
		emailCfg:  emailCfg,
		operator:  operatorEmail,
		logger:    logger,
	}
}

// Threshold returns the configured low-stock boundary.
func (w *StockWatcher) Threshold() int {
	return w.threshold
}

// Observe inspects one stock write. Both side effects are best-effort:
// failures are logged, never returned, so the watcher can never fail the
// inventory mutation that invoked it.
func (w *StockWatcher) Observe(ctx context.Context, change domain.StockChange) {
	if !w.crossed(change) {
		return
	}

	w.logger.Info("Product crossed low-stock threshold",
		zap.String("product_id", change.ProductID.String()),
		zap.String("product", change.ProductName),
		zap.Int("stock", change.New),
	)

	if w.mail != nil {
		params := map[string]string{
			"to_email":      w.operator,
			"product_name":  change.ProductName,
			"current_stock": strconv.Itoa(change.New),
		}
		if err := w.mail.Send(ctx, w.emailCfg.LowStockTemplateID, params); err != nil {
			w.logger.Error("Failed to send low-stock email",
				zap.Error(err), zap.String("product_id", change.ProductID.String()))
		}
	}

	notification := &domain.Notification{
		ID:          uuid.New(),
		Type:        domain.NotificationTypeLowStock,
		Message:     fmt.Sprintf("Stock for %q is low (%d remaining).", change.ProductName, change.New),
		ProductID:   change.ProductID,
		ProductName: change.ProductName,
		Stock:       change.New,
		Read:        false,
		CreatedAt:   time.Now(),
	}
	if err := w.repo.Create(ctx, notification); err != nil {
		w.logger.Error("Failed to create low-stock notification",
			zap.Error(err), zap.String("product_id", change.ProductID.String()))
	}
}

// crossed reports whether this write moved stock from strictly above the
// threshold to at-or-below it.
func (w *StockWatcher) crossed(change domain.StockChange) bool {
	return change.New <= w.threshold && change.Previous > w.threshold
}
