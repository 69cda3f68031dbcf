package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateRuleVersion = "CREATE_RULE_VERSION"
	ActionSubmitForApproval = "SUBMIT_FOR_APPROVAL"
	ActionRecordApproval    = "RECORD_APPROVAL"
	ActionRecordRejection   = "RECORD_REJECTION"
	ActionWithdrawApproval  = "WITHDRAW_APPROVAL"
	ActionOriginatePayment  = "ORIGINATE_PAYMENT"
	ActionCloseBatch        = "CLOSE_BATCH"
	ActionSubmitBatch       = "SUBMIT_BATCH"
	ActionResubmitPayment   = "RESUBMIT_PAYMENT"
	ActionFailPayment       = "FAIL_PAYMENT"
	ActionGatewayStatus     = "GATEWAY_STATUS_NOTIFICATION"
	ActionGatewayReturn     = "GATEWAY_RETURN_NOTIFICATION"
	ActionGatewayUnknownRef = "GATEWAY_UNKNOWN_PAYMENT_REF"
)

// AuditLog tracks Who, What, and When for every workflow mutation. ActorID is
// the subject claim from the external identity provider's token; nullable for
// system-driven actions (workers, gateway callbacks).
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ActorID    *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
