package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-chainpay/app/factory"
	"github.com/vibast-solutions/ms-go-chainpay/app/mapper"
	"github.com/vibast-solutions/ms-go-chainpay/app/repository"
	"github.com/vibast-solutions/ms-go-chainpay/app/service"
	"github.com/vibast-solutions/ms-go-chainpay/app/types"
)

// AdminController exposes the operational surface: poller status/restart and
// the webhook delivery log with manual replay. It reads records but mutates
// nothing directly; all mutation flows through the owning services.
type AdminController struct {
	poller     *service.Poller
	dispatcher *service.Dispatcher
	logger     logrus.FieldLogger
}

func NewAdminController(poller *service.Poller, dispatcher *service.Dispatcher) *AdminController {
	return &AdminController{
		poller:     poller,
		dispatcher: dispatcher,
		logger:     factory.NewModuleLogger("admin-controller"),
	}
}

func (c *AdminController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *AdminController) PollerStatus(ctx echo.Context) error {
	status := c.poller.Status()

	lastRunAt := ""
	if !status.LastRunAt.IsZero() {
		lastRunAt = status.LastRunAt.UTC().Format(time.RFC3339)
	}

	return ctx.JSON(http.StatusOK, &types.PollerStatusResponse{
		Running:    status.Running,
		LastRunAt:  lastRunAt,
		LastHeight: status.LastHeight,
		LastTxID:   status.LastTxID,
		LagBlocks:  status.LagBlocks,
	})
}

func (c *AdminController) RestartPoller(ctx echo.Context) error {
	c.poller.Restart()
	factory.LoggerWithContext(c.logger, ctx).Info("Poller restart requested")
	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Poller restarting"})
}

func (c *AdminController) ListWebhookDeliveries(ctx echo.Context) error {
	req, err := types.NewListWebhookDeliveriesRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.dispatcher.ListDeliveries(ctx.Request().Context(), repository.WebhookDeliveryFilter{
		StoreID:    req.StoreID,
		HasSuccess: req.HasSuccess,
		Success:    req.Success,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		c.logger.WithError(err).Error("List webhook deliveries failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListWebhookDeliveriesResponse{
		Deliveries: mapper.WebhookDeliveriesToResponse(items),
	})
}

func (c *AdminController) GetWebhookDelivery(ctx echo.Context) error {
	req, err := types.NewWebhookDeliveryIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	delivery, attempts, err := c.dispatcher.GetDelivery(ctx.Request().Context(), req.ID)
	if err != nil {
		if errors.Is(err, service.ErrDeliveryNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "webhook delivery not found")
		}
		c.logger.WithError(err).Error("Get webhook delivery failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.WebhookDeliveryDetailResponse{
		Delivery: mapper.WebhookDeliveryToResponse(delivery),
		Attempts: mapper.WebhookAttemptsToResponse(attempts),
	})
}

func (c *AdminController) RetryWebhookDelivery(ctx echo.Context) error {
	req, err := types.NewWebhookDeliveryIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	replay, err := c.dispatcher.Replay(ctx.Request().Context(), req.ID)
	if err != nil {
		if errors.Is(err, service.ErrDeliveryNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "webhook delivery not found")
		}
		c.logger.WithError(err).Error("Replay webhook delivery failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusCreated, mapper.WebhookDeliveryToResponse(replay))
}

func (c *AdminController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
