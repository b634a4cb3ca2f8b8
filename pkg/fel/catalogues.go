package fel

// ── Tipos de DTE (Documento Tributario Electrónico) ───────────────────────────

// Tipos de documento soportados por el motor de certificación.
const (
	DocTypeFactura     = "FACTURA"      // FACT en el XML DTE
	DocTypeNotaCredito = "NOTA_CREDITO" // NCRE
	DocTypeNotaDebito  = "NOTA_DEBITO"  // NDEB
)

// dteCodes mapea el tipo de documento interno al código Tipo del XML DTE.
var dteCodes = map[string]string{
	DocTypeFactura:     "FACT",
	DocTypeNotaCredito: "NCRE",
	DocTypeNotaDebito:  "NDEB",
}

// DTECode devuelve el código Tipo que exige el esquema GT_Documento
// ("FACT", "NCRE", "NDEB"). ok=false si el tipo no está catalogado.
func DTECode(docType string) (string, bool) {
	code, ok := dteCodes[docType]
	return code, ok
}

// CurrencyGTQ es la moneda por defecto del régimen (Quetzal).
const CurrencyGTQ = "GTQ"

// ── Severidades de FelError ───────────────────────────────────────────────────

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ── Resultados de auditoría ───────────────────────────────────────────────────

const (
	AuditResultSuccess   = "success"
	AuditResultFailure   = "failure"
	AuditResultPartial   = "partial"
	AuditResultTimeout   = "timeout"
	AuditResultCancelled = "cancelled"
)

// ── Tipos de operación (para FelError y FelAuditLog) ──────────────────────────

const (
	OpAssemble = "assemble"
	OpCertify  = "certify"
	OpCancel   = "cancel"
	OpQuery    = "query_status"
	OpAuth     = "authenticate"
	OpExpire   = "expire"
)
