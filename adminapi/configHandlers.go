package adminapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/xuri/excelize/v2"
)

// Mapping templates are platform-wide configuration, so every mutation and
// read below the list is admin-gated.

func CreateMappingTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}

		var input models.NewMappingTemplate
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		template, err := models.CreateMappingTemplate(c.Request.Context(), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, template)
	}
}

func ListMappingTemplatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var name *string
		if v := strings.TrimSpace(c.Query("name")); v != "" {
			name = &v
		}
		var sourceType *models.SourceType
		if v := strings.TrimSpace(c.Query("source_type")); v != "" {
			st := models.SourceType(v)
			sourceType = &st
		}

		templates, err := models.GetMappingTemplates(c.Request.Context(), sourceType, name)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"templates": templates})
	}
}

func GetMappingTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
			return
		}

		template, err := models.GetMappingTemplate(c.Request.Context(), id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, template)
	}
}

func UpdateMappingTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
			return
		}

		var input models.NewMappingTemplate
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		template, err := models.UpdateMappingTemplate(c.Request.Context(), id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, template)
	}
}

func DeleteMappingTemplateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
			return
		}

		if _, err := models.DeleteMappingTemplate(c.Request.Context(), id); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ToggleMappingTemplateHandler(isActive bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
			return
		}

		template, err := models.ToggleActiveMappingTemplate(c.Request.Context(), id, isActive)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, template)
	}
}

func CreateMappingOverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewTenantMappingOverride
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		override, err := models.CreateTenantMappingOverride(ctx, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, override)
	}
}

func ListMappingOverridesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		var sourceId *string
		if v := strings.TrimSpace(c.Query("source_id")); v != "" {
			sourceId = &v
		}

		overrides, err := models.GetTenantMappingOverrides(ctx, sourceId)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"overrides": overrides})
	}
}

func GetMappingOverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		override, err := models.GetTenantMappingOverride(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, override)
	}
}

func UpdateMappingOverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override id"})
			return
		}

		var input models.NewTenantMappingOverride
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		override, err := models.UpdateTenantMappingOverride(ctx, id, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, override)
	}
}

func DeleteMappingOverrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		if _, err := models.DeleteTenantMappingOverride(ctx, id); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ToggleMappingOverrideHandler(isActive bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		override, err := models.ToggleActiveTenantMappingOverride(ctx, id, isActive)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, override)
	}
}

// SetSourceMappingHandler creates or replaces the explicit mapping for one
// source; saves bump the version and reactivate the row.
func SetSourceMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewSourceMapping
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		saved, err := models.SetSourceMapping(ctx, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, saved)
	}
}

func GetSourceMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		record, err := models.GetSourceMappingBySource(ctx, c.Param("sourceId"))
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func DeleteSourceMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		if _, err := models.DeleteSourceMapping(ctx, c.Param("sourceId")); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ToggleSourceMappingHandler(isActive bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		record, err := models.ToggleActiveSourceMapping(ctx, c.Param("sourceId"), isActive)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func CreateEntityRefHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewEntityRef
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		ref, err := models.CreateEntityRef(ctx, input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, ref)
	}
}

func ListEntityRefsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		var refType *models.EntityRefType
		if v := strings.TrimSpace(c.Query("ref_type")); v != "" {
			rt := models.EntityRefType(v)
			refType = &rt
		}
		var search *string
		if v := strings.TrimSpace(c.Query("search")); v != "" {
			search = &v
		}

		refs, err := models.GetEntityRefs(ctx, refType, search)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entity_refs": refs})
	}
}

func UpdateEntityRefHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity ref id"})
			return
		}

		var input models.NewEntityRef
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		ref, err := models.UpdateEntityRef(ctx, id, input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, ref)
	}
}

func DeleteEntityRefHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity ref id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		if _, err := models.DeleteEntityRef(ctx, id); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// ImportEntityRefsHandler bulk-loads the entity-ref directory from an xlsx
// upload. Columns: ref_type, external_id, accounting_id, display_name.
// Every row is validated before the first write.
func ImportEntityRefsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if !strings.HasSuffix(fileHeader.Filename, ".xlsx") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type: only .xlsx files are allowed"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
			return
		}
		defer file.Close()

		f, err := excelize.OpenReader(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open Excel file: " + err.Error()})
			return
		}

		rows, err := f.GetRows("Sheet1")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read sheet: " + err.Error()})
			return
		}
		if len(rows) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no data rows"})
			return
		}

		type importRow struct {
			refType      models.EntityRefType
			externalId   string
			accountingId string
			displayName  string
		}
		parsed := make([]importRow, 0, len(rows)-1)
		var rowErrors []string
		for idx, row := range rows[1:] {
			cell := func(i int) string {
				if i < len(row) {
					return strings.TrimSpace(row[i])
				}
				return ""
			}
			r := importRow{
				refType:      models.EntityRefType(strings.ToLower(cell(0))),
				externalId:   cell(1),
				accountingId: cell(2),
				displayName:  cell(3),
			}
			if !r.refType.Valid() {
				rowErrors = append(rowErrors, fmt.Sprintf("row %d: unknown ref type %q", idx+2, cell(0)))
				continue
			}
			if r.externalId == "" || r.accountingId == "" {
				rowErrors = append(rowErrors, fmt.Sprintf("row %d: external_id and accounting_id are required", idx+2))
				continue
			}
			parsed = append(parsed, r)
		}
		if len(rowErrors) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "import rejected", "rows": rowErrors})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		imported := 0
		for _, r := range parsed {
			if _, err := models.UpsertEntityRef(ctx, tenantId, r.refType, r.externalId, r.accountingId, r.displayName); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "imported": imported})
				return
			}
			imported++
		}
		c.JSON(http.StatusOK, gin.H{"imported": imported})
	}
}
