package state

import (
	"time"

	"github.com/uptrace/bun"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

type requestRecord struct {
	bun.BaseModel `bun:"table:processing_requests,alias:pr"`

	ID            string    `bun:"id,pk"`
	Text          string    `bun:"input_text,notnull"`
	Mode          string    `bun:"orchestration_mode,notnull"`
	Status        string    `bun:"status,notnull"`
	Error         string    `bun:"error,notnull,default:''"`
	WebhookURL    string    `bun:"webhook_url,notnull,default:''"`
	WebhookSecret string    `bun:"webhook_secret,notnull,default:''"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

type agentResultRecord struct {
	bun.BaseModel `bun:"table:agent_results,alias:ar"`

	ID           int64     `bun:"id,pk,autoincrement"`
	RequestID    string    `bun:"request_id,notnull,unique:request_agent"`
	Agent        string    `bun:"agent_name,notnull,unique:request_agent"`
	Outcome      string    `bun:"outcome,notnull"`
	Payload      string    `bun:"result_data,notnull,default:''"`
	ErrorKind    string    `bun:"error_kind,notnull,default:''"`
	ErrorMessage string    `bun:"error_message,notnull,default:''"`
	DurationMS   int64     `bun:"duration_ms,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type deliveryAttemptRecord struct {
	bun.BaseModel `bun:"table:webhook_logs,alias:wl"`

	ID           string    `bun:"id,pk"`
	Seq          int64     `bun:"seq,notnull"`
	RequestID    string    `bun:"request_id,notnull"`
	DeliveryID   string    `bun:"delivery_id,notnull"`
	Trigger      string    `bun:"trigger_kind,notnull"`
	Attempt      int       `bun:"attempt_number,notnull"`
	URL          string    `bun:"webhook_url,notnull"`
	Signature    string    `bun:"signature,notnull,default:''"`
	StatusCode   int       `bun:"status_code,notnull,default:0"`
	ErrorKind    string    `bun:"error_kind,notnull,default:''"`
	ErrorMessage string    `bun:"error_message,notnull,default:''"`
	ResponseBody string    `bun:"response_body,notnull,default:''"`
	Outcome      string    `bun:"outcome,notnull"`
	TimedOut     bool      `bun:"timed_out,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

func toRequestRecord(req contractx.ProcessingRequest) *requestRecord {
	rec := &requestRecord{
		ID:        req.ID,
		Text:      req.Text,
		Mode:      string(req.Mode),
		Status:    string(req.Status),
		Error:     string(req.Error),
		CreatedAt: req.CreatedAt.UTC(),
		UpdatedAt: req.UpdatedAt.UTC(),
	}
	if req.Webhook != nil {
		rec.WebhookURL = req.Webhook.URL
		rec.WebhookSecret = req.Webhook.Secret
	}
	return rec
}

func (r *requestRecord) toDomain() contractx.ProcessingRequest {
	req := contractx.ProcessingRequest{
		ID:        r.ID,
		Text:      r.Text,
		Mode:      contractx.ExecutionMode(r.Mode),
		Status:    contractx.RequestStatus(r.Status),
		Error:     contractx.RequestErrorKind(r.Error),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.WebhookURL != "" {
		req.Webhook = &contractx.WebhookTarget{
			URL:    r.WebhookURL,
			Secret: r.WebhookSecret,
		}
	}
	return req
}

func (r *deliveryAttemptRecord) toDomain() contractx.WebhookDeliveryAttempt {
	return contractx.WebhookDeliveryAttempt{
		ID:           r.ID,
		RequestID:    r.RequestID,
		DeliveryID:   r.DeliveryID,
		Trigger:      contractx.DeliveryTrigger(r.Trigger),
		Attempt:      r.Attempt,
		URL:          r.URL,
		Signature:    r.Signature,
		StatusCode:   r.StatusCode,
		ErrorKind:    contractx.DeliveryErrorKind(r.ErrorKind),
		Error:        r.ErrorMessage,
		ResponseBody: r.ResponseBody,
		Outcome:      contractx.DeliveryOutcome(r.Outcome),
		TimedOut:     r.TimedOut,
		Timestamp:    r.CreatedAt.UTC(),
	}
}
