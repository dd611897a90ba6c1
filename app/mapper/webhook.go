package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-chainpay/app/entity"
	"github.com/vibast-solutions/ms-go-chainpay/app/types"
)

func WebhookDeliveryToResponse(item *entity.WebhookDelivery) *types.WebhookDeliveryResponse {
	if item == nil {
		return nil
	}

	return &types.WebhookDeliveryResponse{
		ID:             item.ID,
		StoreID:        item.StoreID,
		InvoiceID:      derefString(item.InvoiceID),
		SubscriptionID: derefString(item.SubscriptionID),
		EventType:      item.EventType,
		Payload:        item.PayloadJSON,
		Status:         deliveryStatusLabel(item.Status),
		Attempts:       item.Attempts,
		LastStatusCode: derefInt32(item.LastStatusCode),
		LastError:      derefString(item.LastError),
		NextAttemptAt:  formatTimePtr(item.NextAttemptAt),
		LastAttemptAt:  formatTimePtr(item.LastAttemptAt),
		ReplayOf:       derefString(item.ReplayOf),
		CreatedAt:      item.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func WebhookDeliveriesToResponse(items []*entity.WebhookDelivery) []*types.WebhookDeliveryResponse {
	result := make([]*types.WebhookDeliveryResponse, 0, len(items))
	for _, item := range items {
		result = append(result, WebhookDeliveryToResponse(item))
	}
	return result
}

func WebhookAttemptsToResponse(items []*entity.WebhookAttempt) []*types.WebhookAttemptResponse {
	result := make([]*types.WebhookAttemptResponse, 0, len(items))
	for _, item := range items {
		result = append(result, &types.WebhookAttemptResponse{
			AttemptNo:  item.AttemptNo,
			StatusCode: derefInt32(item.StatusCode),
			Success:    item.Success,
			Error:      derefString(item.Error),
			CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return result
}

func deliveryStatusLabel(status int32) string {
	switch status {
	case entity.WebhookDeliveryPending:
		return "pending"
	case entity.WebhookDeliverySuccess:
		return "success"
	case entity.WebhookDeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func formatTimePtr(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
