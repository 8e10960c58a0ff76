package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	sandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	productionBaseURL = "https://quickbooks.api.intuit.com"
	intuitAuthURL     = "https://appcenter.intuit.com/connect/oauth2"
	intuitTokenURL    = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	accountingScope   = "com.intuit.quickbooks.accounting"
	minorVersion      = "65"
)

type qboClient struct {
	baseURL      string
	authURL      string
	tokenURL     string
	clientId     string
	clientSecret string
	http         *http.Client
}

func newQBOClient() (*qboClient, error) {
	clientId := strings.TrimSpace(os.Getenv("QBO_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("QBO_CLIENT_SECRET"))
	if clientId == "" || clientSecret == "" {
		return nil, errors.New("quickbooks client credentials are not configured")
	}

	baseURL := sandboxBaseURL
	if strings.EqualFold(strings.TrimSpace(os.Getenv("QBO_ENVIRONMENT")), "production") {
		baseURL = productionBaseURL
	}
	if v := strings.TrimSpace(os.Getenv("QBO_API_BASE_URL")); v != "" {
		baseURL = v
	}
	tokenURL := intuitTokenURL
	if v := strings.TrimSpace(os.Getenv("QBO_TOKEN_URL")); v != "" {
		tokenURL = v
	}

	return &qboClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		authURL:      intuitAuthURL,
		tokenURL:     tokenURL,
		clientId:     clientId,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *qboClient) authorizationURL(state string, redirectURI string) string {
	params := url.Values{}
	params.Set("client_id", c.clientId)
	params.Set("response_type", "code")
	params.Set("scope", accountingScope)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	return c.authURL + "?" + params.Encode()
}

func (c *qboClient) exchangeCode(ctx context.Context, code string, redirectURI string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return c.postTokenForm(ctx, form)
}

func (c *qboClient) refreshTokens(ctx context.Context, refreshToken string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.postTokenForm(ctx, form)
}

func (c *qboClient) postTokenForm(ctx context.Context, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.SetBasicAuth(c.clientId, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, &apiError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tokenResponse{}, err
	}
	if parsed.AccessToken == "" || parsed.RefreshToken == "" {
		return tokenResponse{}, errors.New("incomplete token response from intuit")
	}
	return parsed, nil
}

// createInvoice posts the assembled document as-is. The document already
// carries the provider's invoice shape; only entity refs were rewritten.
func (c *qboClient) createInvoice(ctx context.Context, realmId string, accessToken string, document []byte) (invoiceEnvelope, error) {
	endpoint := fmt.Sprintf("%s/v3/company/%s/invoice?minorversion=%s", c.baseURL, url.PathEscape(realmId), minorVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(document))
	if err != nil {
		return invoiceEnvelope{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return invoiceEnvelope{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return invoiceEnvelope{}, faultToError(resp.StatusCode, body)
	}

	var parsed invoiceEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return invoiceEnvelope{}, err
	}
	return parsed, nil
}

func (c *qboClient) fetchCompanyName(ctx context.Context, realmId string, accessToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/v3/company/%s/companyinfo/%s?minorversion=%s",
		c.baseURL, url.PathEscape(realmId), url.PathEscape(realmId), minorVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", faultToError(resp.StatusCode, body)
	}

	var parsed companyInfoEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return parsed.CompanyInfo.CompanyName, nil
}

func faultToError(statusCode int, body []byte) error {
	apiErr := &apiError{StatusCode: statusCode}
	var fault faultEnvelope
	if err := json.Unmarshal(body, &fault); err == nil && len(fault.Fault.Error) > 0 {
		apiErr.Code = fault.Fault.Error[0].Code
		apiErr.Message = fault.Fault.Error[0].Message
		apiErr.Detail = fault.Fault.Error[0].Detail
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
