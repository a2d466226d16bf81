package topics

const (
	// Transações
	TransactionCompleted = "rgs_transactions"

	// Reconciliação de WINs que esgotaram as tentativas
	ReconcileRequested = "rgs_reconcile"

	// DLQs
	ReconcileRequestedDLQ = "rgs_reconcile_dlq"
)
