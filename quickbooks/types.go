package quickbooks

import (
	"fmt"
	"net/http"
	"strings"
)

type tokenResponse struct {
	AccessToken            string `json:"access_token"`
	RefreshToken           string `json:"refresh_token"`
	ExpiresIn              int    `json:"expires_in"`
	XRefreshTokenExpiresIn int    `json:"x_refresh_token_expires_in"`
	TokenType              string `json:"token_type"`
}

type faultDetail struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
}

type faultEnvelope struct {
	Fault struct {
		Error []faultDetail `json:"Error"`
		Type  string        `json:"type"`
	} `json:"Fault"`
}

type invoiceEnvelope struct {
	Invoice struct {
		Id        string `json:"Id"`
		DocNumber string `json:"DocNumber"`
	} `json:"Invoice"`
}

type companyInfoEnvelope struct {
	CompanyInfo struct {
		CompanyName string `json:"CompanyName"`
	} `json:"CompanyInfo"`
}

// apiError is a non-2xx answer from Intuit. Code/Message/Detail come from the
// Fault body when one was parseable.
type apiError struct {
	StatusCode int
	Code       string
	Message    string
	Detail     string
}

func (e *apiError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unknown quickbooks error"
	}
	if e.Code != "" {
		return fmt.Sprintf("quickbooks api error %d (code %s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("quickbooks api error %d: %s", e.StatusCode, msg)
}

// retryable reports whether the same request may succeed later without any
// configuration change. Auth failures are handled separately via isAuthError.
func (e *apiError) retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

func isAuthError(err error) bool {
	apiErr, ok := err.(*apiError)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}

type authorizeURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type callbackRequest struct {
	Code        string `json:"code" binding:"required"`
	RealmId     string `json:"realmId" binding:"required"`
	State       string `json:"state" binding:"required"`
	RedirectURI string `json:"redirectUri" binding:"required"`
}

type pubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
