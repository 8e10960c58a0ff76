package quickbooks

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

const authStateTTL = 10 * time.Minute

// AuthorizeHandler hands the frontend an Intuit consent URL. The state token
// is bound to the tenant in redis so the callback can verify the round trip.
func AuthorizeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		redirectURI := strings.TrimSpace(c.Query("redirect_uri"))
		if redirectURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "redirect_uri is required"})
			return
		}

		client, err := newQBOClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		state := uuid.NewString()
		if err := config.SetRedisValue("QBOAuthState:"+state, tenantId, authStateTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, authorizeURLResponse{
			URL:   client.authorizationURL(state, redirectURI),
			State: state,
		})
	}
}

// CallbackHandler completes the OAuth exchange. The frontend relays Intuit's
// redirect parameters here after the user grants consent.
func CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req callbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		stateTenant, exists, err := config.GetRedisValue("QBOAuthState:" + req.State)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !exists || stateTenant != tenantId {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
			return
		}
		// State is single use.
		_ = config.RemoveRedisKey("QBOAuthState:" + req.State)

		client, err := newQBOClient()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		tokens, err := client.exchangeCode(ctx, req.Code, req.RedirectURI)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		companyName, err := client.fetchCompanyName(ctx, req.RealmId, tokens.AccessToken)
		if err != nil || strings.TrimSpace(companyName) == "" {
			companyName = "QuickBooks Company"
		}

		expiresIn := tokens.ExpiresIn
		if expiresIn <= 0 {
			expiresIn = 3600
		}
		expiresAt := time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)

		conn, err := models.ConnectAccounting(ctx, models.ConnectAccountingInput{
			Provider:       models.AccountingProviderQuickBooks,
			RealmId:        req.RealmId,
			CompanyName:    companyName,
			AccessToken:    tokens.AccessToken,
			RefreshToken:   tokens.RefreshToken,
			TokenExpiresAt: &expiresAt,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		if _, err := models.DisconnectAccounting(ctx, models.AccountingProviderQuickBooks); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusOK, gin.H{"success": true})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ListConnectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		conns, err := models.GetAccountingConnections(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conns)
	}
}

// resolveTenantID reads the tenant set by the session middleware. Admin users
// may act on another tenant by passing ?tenant_id=.
func resolveTenantID(c *gin.Context) (string, error) {
	tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(tenantId) == "" {
		return "", errors.New("unauthorized")
	}

	if override := strings.TrimSpace(c.Query("tenant_id")); override != "" && override != tenantId {
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin {
			return "", errors.New("unauthorized")
		}
		return override, nil
	}
	return tenantId, nil
}
