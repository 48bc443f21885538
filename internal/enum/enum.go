package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusDraft       = "DRAFT"       // "Iniciado" on the counter screens
	OrderStatusOrdered     = "ORDERED"     // "Pedido"
	OrderStatusConditional = "CONDITIONAL" // "Condicional"
	OrderStatusQuote       = "QUOTE"       // "Orçamento"
	OrderStatusBilled      = "BILLED"      // terminal: invoiced, locked against edits
	OrderStatusCancelled   = "CANCELLED"
)

const (
	SessionStatusOpen   = "OPEN"
	SessionStatusClosed = "CLOSED"
)

// ── Group B: Append-only record attributes ──

const (
	MovementDirectionIn  = "IN"
	MovementDirectionOut = "OUT"
)

const (
	MovementReasonSale         = "SALE"
	MovementReasonServiceOrder = "SERVICE_ORDER"
	MovementReasonAdjustment   = "ADJUSTMENT"
	MovementReasonCancel       = "CANCEL"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
)

const (
	OrderKindSale         = "SALE"
	OrderKindServiceOrder = "SERVICE_ORDER"
)

// ── Group D: Configurable labels (no DB constraint) ──

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodPix      = "PIX"
	PaymentMethodTransfer = "TRANSFER"
	// PaymentMethodMultiple is only ever written by the cash ledger when a
	// settlement aggregates more than one distinct method.
	PaymentMethodMultiple = "MULTIPLE"
)
