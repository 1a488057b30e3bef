package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestType enum constants
const (
	RequestTypeFuel             = "FUEL"
	RequestTypeProcurement      = "PROCUREMENT"
	RequestTypeLeave            = "LEAVE"
	RequestTypeAdHocItem        = "AD_HOC_ITEM"
	RequestTypeStoreRequisition = "STORE_REQUISITION"
)

// RequestStatus enum constants. COMPLETED is reserved for AD_HOC_ITEM
// requests, which carry no approval queue and are resolved directly by an
// administrator.
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusSentBack  = "SENT_BACK"
	StatusCompleted = "COMPLETED"
)

// ValidRequestType reports whether t is one of the known request types
func ValidRequestType(t string) bool {
	switch t {
	case RequestTypeFuel, RequestTypeProcurement, RequestTypeLeave,
		RequestTypeAdHocItem, RequestTypeStoreRequisition:
		return true
	}
	return false
}

// ApproverEntry is one element of a request's approval queue. Entry statuses
// mirror the request-level constants minus COMPLETED. The role-conditioned
// fields (HODComments, InternalAuditComments, FinalAmount) are only ever
// populated by the identity entitled to set them.
type ApproverEntry struct {
	UserID                uuid.UUID        `json:"user_id"`
	UserName              string           `json:"user_name"`
	Status                string           `json:"status"`
	Comments              string           `json:"comments,omitempty"`
	Signature             string           `json:"signature,omitempty"`
	ApprovedAt            *time.Time       `json:"approved_at,omitempty"`
	HODComments           string           `json:"hod_comments,omitempty"`
	InternalAuditComments string           `json:"internal_audit_comments,omitempty"`
	FinalAmount           *decimal.Decimal `json:"final_amount,omitempty"`
}

// ApprovalQueue is the ordered approver list embedded in a request as jsonb.
// Insertion order is approval order and must never be reordered after
// creation; only a resubmission may replace the membership.
type ApprovalQueue []ApproverEntry

func (q ApprovalQueue) Value() (driver.Value, error) {
	if q == nil {
		q = ApprovalQueue{}
	}
	return json.Marshal(q)
}

func (q *ApprovalQueue) Scan(value interface{}) error {
	if value == nil {
		*q = ApprovalQueue{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, q)
	case string:
		return json.Unmarshal([]byte(v), q)
	default:
		return fmt.Errorf("unsupported approval queue column type %T", value)
	}
}

// Clone returns a deep copy so the approval engine can mutate a candidate
// state without touching the loaded record.
func (q ApprovalQueue) Clone() ApprovalQueue {
	out := make(ApprovalQueue, len(q))
	copy(out, q)
	for i := range out {
		if q[i].ApprovedAt != nil {
			t := *q[i].ApprovedAt
			out[i].ApprovedAt = &t
		}
		if q[i].FinalAmount != nil {
			d := *q[i].FinalAmount
			out[i].FinalAmount = &d
		}
	}
	return out
}

// FuelDetails payload for FUEL requests
type FuelDetails struct {
	VehicleNo string          `json:"vehicle_no"`
	Liters    decimal.Decimal `json:"liters"`
	Amount    decimal.Decimal `json:"amount"`
	Purpose   string          `json:"purpose,omitempty"`
}

// ProcurementDetails payload for PROCUREMENT requests
type ProcurementDetails struct {
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Justification string          `json:"justification,omitempty"`
}

// LeaveDetails payload for LEAVE requests. HODUserID designates the head of
// department whose queue entry alone may carry HOD comments.
type LeaveDetails struct {
	HODUserID uuid.UUID `json:"hod_user_id"`
	LeaveType string    `json:"leave_type"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Reason    string    `json:"reason,omitempty"`
}

// AdHocItemDetails payload for AD_HOC_ITEM requests
type AdHocItemDetails struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

// RequisitionItem is a single priced line of a store requisition
type RequisitionItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

// StoreRequisitionDetails payload for STORE_REQUISITION requests. GrandTotal
// is recomputed server-side at submission and is informational to the
// workflow itself.
type StoreRequisitionDetails struct {
	Items      []RequisitionItem `json:"items"`
	GrandTotal decimal.Decimal   `json:"grand_total"`
}

// RequestDetails is a tagged union over the per-type payloads: exactly the
// variant matching Request.RequestType is non-nil. Stored as a single jsonb
// column.
type RequestDetails struct {
	Fuel             *FuelDetails             `json:"fuel,omitempty"`
	Procurement      *ProcurementDetails      `json:"procurement,omitempty"`
	Leave            *LeaveDetails            `json:"leave,omitempty"`
	AdHocItem        *AdHocItemDetails        `json:"ad_hoc_item,omitempty"`
	StoreRequisition *StoreRequisitionDetails `json:"store_requisition,omitempty"`
}

func (d RequestDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *RequestDetails) Scan(value interface{}) error {
	if value == nil {
		*d = RequestDetails{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported details column type %T", value)
	}
}

// Validate checks that the variant matching requestType (and no other) is
// present and minimally filled in.
func (d RequestDetails) Validate(requestType string) error {
	set := 0
	if d.Fuel != nil {
		set++
	}
	if d.Procurement != nil {
		set++
	}
	if d.Leave != nil {
		set++
	}
	if d.AdHocItem != nil {
		set++
	}
	if d.StoreRequisition != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("details must carry exactly one variant, got %d", set)
	}

	switch requestType {
	case RequestTypeFuel:
		if d.Fuel == nil {
			return fmt.Errorf("fuel details required for %s request", requestType)
		}
	case RequestTypeProcurement:
		if d.Procurement == nil {
			return fmt.Errorf("procurement details required for %s request", requestType)
		}
	case RequestTypeLeave:
		if d.Leave == nil {
			return fmt.Errorf("leave details required for %s request", requestType)
		}
		if d.Leave.HODUserID == uuid.Nil {
			return fmt.Errorf("leave details require a designated head of department")
		}
	case RequestTypeAdHocItem:
		if d.AdHocItem == nil {
			return fmt.Errorf("ad-hoc item details required for %s request", requestType)
		}
	case RequestTypeStoreRequisition:
		if d.StoreRequisition == nil {
			return fmt.Errorf("store requisition details required for %s request", requestType)
		}
		if len(d.StoreRequisition.Items) == 0 {
			return fmt.Errorf("store requisition requires at least one item")
		}
	default:
		return fmt.Errorf("unknown request type: %s", requestType)
	}
	return nil
}

// HODUserID returns the designated head of department, or uuid.Nil when the
// request type has none.
func (d RequestDetails) HODUserID() uuid.UUID {
	if d.Leave != nil {
		return d.Leave.HODUserID
	}
	return uuid.Nil
}

// Request represents a typed request travelling through its approval queue.
// The queue and details are embedded as jsonb so every workflow mutation is
// a single-row conditional write.
type Request struct {
	ID                   uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestType          string         `gorm:"type:varchar(30);not null;index" json:"request_type"`
	RequesterID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"requester_id"`
	RequesterName        string         `gorm:"type:varchar(255);not null" json:"requester_name"`
	Details              RequestDetails `gorm:"type:jsonb;not null" json:"details"`
	Status               string         `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ApprovalQueue        ApprovalQueue  `gorm:"type:jsonb;not null" json:"approval_queue"`
	CurrentApproverIndex int            `gorm:"not null;default:0" json:"current_approver_index"`
	RequesterSignature   string         `gorm:"type:text;not null" json:"requester_signature"`
	AttachmentURL        string         `gorm:"type:text" json:"attachment_url,omitempty"`
	VendorID             *uuid.UUID     `gorm:"type:uuid;index" json:"vendor_id,omitempty"`
	CreatedAt            time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// CurrentApprover returns the entry authorized to act, or nil when the queue
// is exhausted or empty.
func (r *Request) CurrentApprover() *ApproverEntry {
	if r.CurrentApproverIndex < 0 || r.CurrentApproverIndex >= len(r.ApprovalQueue) {
		return nil
	}
	return &r.ApprovalQueue[r.CurrentApproverIndex]
}

// Clone returns a deep copy of the request
func (r Request) Clone() Request {
	out := r
	out.ApprovalQueue = r.ApprovalQueue.Clone()
	if r.VendorID != nil {
		v := *r.VendorID
		out.VendorID = &v
	}
	return out
}
