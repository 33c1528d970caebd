package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/middleware"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/internal/services"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
	"github.com/nridwan/elysian-realm-sub000/pkg/utils"
)

const (
	actionRollbackAudit = "ROLLBACK_AUDIT"

	auditTable = "audit_logs"
)

// HeaderExportTruncated is "true" when an export stopped at its row cap.
const HeaderExportTruncated = "X-Export-Truncated"

var (
	exportPageSize = services.MaxAuditLimit
	exportRowCap   = 50000
)

type AuditReader interface {
	List(ctx context.Context, filter services.AuditFilter) ([]models.AuditLog, error)
	MarkRolledBack(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
}

type AuditHandler struct {
	Audit AuditReader
}

func NewAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{Audit: audit}
}

func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseAuditFilter reads action, userId, since, until and limit from the
// query string.
func parseAuditFilter(c *fiber.Ctx) (services.AuditFilter, string) {
	filter := services.AuditFilter{
		Action: strings.TrimSpace(c.Query("action")),
		Limit:  c.QueryInt("limit", services.DefaultAuditLimit),
	}

	if raw := strings.TrimSpace(c.Query("userId")); raw != "" {
		id, err := parseUUID(raw)
		if err != nil {
			return filter, "userId must be a valid uuid"
		}
		filter.UserID = &id
	}

	since, err := parseTimeQuery(c, "since")
	if err != nil {
		return filter, "since must be an RFC3339 timestamp"
	}
	until, err := parseTimeQuery(c, "until")
	if err != nil {
		return filter, "until must be an RFC3339 timestamp"
	}
	filter.Since, filter.Until = since, until
	return filter, ""
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	filter, problem := parseAuditFilter(c)
	if problem != "" {
		return utils.Error(c, utils.ServiceAudit, fiber.StatusBadRequest, problem)
	}

	logs, err := h.Audit.List(c.UserContext(), filter)
	if err != nil {
		logger.Error("audit_list_failed", err, nil)
		return utils.Error(c, utils.ServiceAudit, fiber.StatusInternalServerError, "Failed loading audit logs")
	}

	return utils.Success(c, utils.ServiceAudit, fiber.StatusOK, "Audit logs retrieved", logs)
}

func (h *AuditHandler) Export(c *fiber.Ctx) error {
	format := strings.ToLower(strings.TrimSpace(c.Query("format", "csv")))
	if format != "csv" && format != "json" {
		return utils.Error(c, utils.ServiceAudit, fiber.StatusBadRequest, "format must be csv or json")
	}

	filter, problem := parseAuditFilter(c)
	if problem != "" {
		return utils.Error(c, utils.ServiceAudit, fiber.StatusBadRequest, problem)
	}
	maxRows := exportRowCap
	if limit := c.QueryInt("limit", 0); limit > 0 && limit < maxRows {
		maxRows = limit
	}

	logs, truncated, err := h.collectExport(c.UserContext(), filter, maxRows)
	if err != nil {
		logger.Error("audit_export_failed", err, nil)
		return utils.Error(c, utils.ServiceAudit, fiber.StatusInternalServerError, "Failed loading audit logs")
	}
	c.Set(HeaderExportTruncated, strconv.FormatBool(truncated))
	if truncated {
		logger.Warn("audit_export_truncated", map[string]interface{}{"rows": len(logs)})
	}

	if format == "json" {
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "audit-log.json"))
		return utils.Success(c, utils.ServiceAudit, fiber.StatusOK, "Audit logs exported", logs)
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "audit-log.csv"))

	writer := csv.NewWriter(c.Response().BodyWriter())
	_ = writer.Write([]string{"Timestamp", "Action", "User ID", "IP Address", "User Agent", "Rolled Back", "Changes"})

	for _, row := range logs {
		userID := ""
		if row.UserID != nil {
			userID = row.UserID.String()
		}

		changes, err := json.Marshal(row.Changes)
		if err != nil {
			changes = []byte("[]")
		}

		_ = writer.Write([]string{
			row.CreatedAt.Format(time.RFC3339),
			row.Action,
			userID,
			row.IPAddress,
			row.UserAgent,
			strconv.FormatBool(row.IsRolledBack),
			string(changes),
		})
	}

	writer.Flush()
	return writer.Error()
}

// collectExport pages through every matching row up to maxRows. It reads one
// row past the cap to tell a complete export from a truncated one.
func (h *AuditHandler) collectExport(ctx context.Context, filter services.AuditFilter, maxRows int) ([]models.AuditLog, bool, error) {
	var rows []models.AuditLog
	for {
		page := filter
		page.Offset = len(rows)
		page.Limit = exportPageSize
		if remaining := maxRows + 1 - len(rows); remaining < page.Limit {
			page.Limit = remaining
		}

		batch, err := h.Audit.List(ctx, page)
		if err != nil {
			return nil, false, err
		}
		rows = append(rows, batch...)
		if len(rows) > maxRows {
			return rows[:maxRows], true, nil
		}
		if len(batch) < page.Limit {
			return rows, false, nil
		}
	}
}

// Rollback flags a row as compensated. The flagged row's data changes are
// not reverted.
func (h *AuditHandler) Rollback(c *fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, utils.ServiceAudit, fiber.StatusBadRequest, "Invalid audit log id")
	}

	trail := middleware.GetAuditTrail(c)
	trail.RecordStartAction(actionRollbackAudit)

	row, err := h.Audit.MarkRolledBack(c.UserContext(), id)
	if errors.Is(err, services.ErrAuditNotFound) {
		trail.MarkForRollback()
		return utils.Error(c, utils.ServiceAudit, fiber.StatusNotFound, "Audit log not found")
	}
	if err != nil {
		trail.MarkForRollback()
		logger.Error("audit_rollback_failed", err, map[string]interface{}{"audit_id": id.String()})
		return utils.Error(c, utils.ServiceAudit, fiber.StatusInternalServerError, "Failed updating audit log")
	}

	_ = trail.RecordChange(auditTable,
		map[string]interface{}{"id": row.ID.String(), "is_rolled_back": false},
		map[string]interface{}{"id": row.ID.String(), "is_rolled_back": true},
	)

	return utils.Success(c, utils.ServiceAudit, fiber.StatusOK, "Audit log rolled back", row)
}
