package handlers

import (
	"encoding/csv"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finovant/paydesk/internal/audit"
	"github.com/finovant/paydesk/internal/gate"
	"github.com/finovant/paydesk/internal/middleware"
	"github.com/finovant/paydesk/pkg/response"
)

const exportPageSize = 1000

// AuditHandler serves redacted ledger queries and CSV exports.
type AuditHandler struct {
	ledger *audit.Ledger
	gate   *gate.Gate
}

func NewAuditHandler(ledger *audit.Ledger, g *gate.Gate) *AuditHandler {
	return &AuditHandler{ledger: ledger, gate: g}
}

// GET /api/tenants/:tenantId/audit
func (h *AuditHandler) List(c *gin.Context) {
	entries, total, err := h.ledger.List(requestContext(c), audit.ListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 50),
		Filters:  h.filtersFromQuery(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entries": entries, "total": total})
}

// GET /api/tenants/:tenantId/audit/export
//
// The export itself is a sensitive action: it passes through the gate as
// audit.export with the row count as its amount, so large exports demand a
// fresh step-up per tenant policy.
func (h *AuditHandler) Export(c *gin.Context) {
	ctx := requestContext(c)
	tenantID := c.Param("tenantId")
	filters := h.filtersFromQuery(c)
	filters.TenantID = tenantID

	_, total, err := h.ledger.List(ctx, audit.ListOptions{Page: 1, PageSize: 1, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}

	outcome, err := h.gate.Invoke(ctx, gate.Invocation{
		PrincipalID: c.GetString(middleware.CtxPrincipalIDKey),
		TenantID:    tenantID,
		ActionType:  gate.ActionAuditExport,
		Payload:     map[string]any{"rows": total},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.Status != gate.StatusExecuted {
		writeOutcome(c, outcome)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="audit-export.csv"`)
	c.Status(http.StatusOK)

	writer := csv.NewWriter(c.Writer)
	_ = writer.Write([]string{"id", "created_at", "tenant_id", "actor_id", "action", "target", "result", "ip_address"})

	for page := 1; ; page++ {
		entries, _, err := h.ledger.List(ctx, audit.ListOptions{Page: page, PageSize: exportPageSize, Filters: filters})
		if err != nil {
			return
		}
		for _, entry := range entries {
			_ = writer.Write([]string{
				entry.ID,
				entry.CreatedAt.UTC().Format(time.RFC3339),
				strValue(entry.TenantID),
				strValue(entry.ActorID),
				entry.Action,
				entry.Target,
				entry.Result,
				entry.IPAddress,
			})
		}
		if len(entries) < exportPageSize {
			break
		}
	}
	writer.Flush()
}

func (h *AuditHandler) filtersFromQuery(c *gin.Context) audit.Filters {
	filters := audit.Filters{
		TenantID: c.Param("tenantId"),
		ActorID:  strings.TrimSpace(c.Query("actor_id")),
		Action:   strings.TrimSpace(c.Query("action")),
		Result:   strings.TrimSpace(c.Query("result")),
		Target:   strings.TrimSpace(c.Query("target")),
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		if parsed, err := time.Parse(time.RFC3339, since); err == nil {
			filters.Since = &parsed
		}
	}
	if until := strings.TrimSpace(c.Query("until")); until != "" {
		if parsed, err := time.Parse(time.RFC3339, until); err == nil {
			filters.Until = &parsed
		}
	}
	return filters
}

func strValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
