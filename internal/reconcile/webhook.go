package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kbekoe/databroker/internal/errs"
	"github.com/kbekoe/databroker/internal/model"
)

// Providers disagree on field names for the same logical values, so each
// value is pulled by an ordered list of extractors, first match wins.
var referenceFields = []string{"orderId", "order_id", "reference", "ref", "transactionId", "id"}
var statusFields = []string{"status", "state", "order_status"}
var messageFields = []string{"message", "msg", "detail", "reason"}

func extractString(payload map[string]interface{}, fields []string) (string, bool) {
	for _, field := range fields {
		if v, ok := payload[field]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t, true
				}
			case float64:
				return fmt.Sprintf("%.0f", t), true
			}
		}
	}
	return "", false
}

// HandleWebhook ingests one provider callback. The raw event is persisted
// unconditionally, before and regardless of parsing; ping bodies, unknown
// payload shapes and references we are not tracking are all acknowledged
// without processing so the provider does not go into a retry storm. Only
// unexpected internal failures return an error.
func (r *Reconciler) HandleWebhook(ctx context.Context, providerName string, payload []byte) error {
	event := model.WebhookEvent{
		ID:       uuid.NewString(),
		Provider: providerName,
		Payload:  string(payload),
	}

	var parsed map[string]interface{}
	parseable := json.Unmarshal(payload, &parsed) == nil

	var ref string
	var hasRef bool
	if parseable {
		ref, hasRef = extractString(parsed, referenceFields)
		if hasRef {
			event.ProviderRef = &ref
		}
	}

	if err := r.store.InsertWebhookEvent(ctx, event); err != nil {
		return fmt.Errorf("persist webhook event: %w", err)
	}

	if !parseable {
		r.logger.Infof("unparseable webhook body from %s stored as event %s", providerName, event.ID)
		return nil
	}
	if !hasRef {
		r.logger.Infof("webhook from %s has no recognizable reference, event %s", providerName, event.ID)
		return nil
	}

	rawStatus, _ := extractString(parsed, statusFields)
	rawMessage, _ := extractString(parsed, messageFields)

	applied, err := r.ApplyExternalStatus(ctx, ref, rawStatus, rawMessage)
	if err != nil {
		if errors.Is(err, errs.ErrTrackingNotFound) {
			r.logger.Infof("webhook for unknown reference %s from %s", ref, providerName)
			return nil
		}
		return fmt.Errorf("apply webhook status: %w", err)
	}
	if applied {
		r.logger.Infof("webhook applied %q to reference %s", rawStatus, ref)
	}
	return nil
}
