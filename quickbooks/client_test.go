package quickbooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// NOTE: These tests run against httptest servers; no Intuit credentials or
// network access involved.

func testClient(srv *httptest.Server) *qboClient {
	return &qboClient{
		baseURL:      srv.URL,
		authURL:      srv.URL + "/connect/oauth2",
		tokenURL:     srv.URL + "/oauth2/v1/tokens/bearer",
		clientId:     "test-client-id",
		clientSecret: "test-client-secret",
		http:         srv.Client(),
	}
}

func TestAuthorizationURLCarriesConsentParams(t *testing.T) {
	c := &qboClient{authURL: intuitAuthURL, clientId: "abc123"}

	raw := c.authorizationURL("state-xyz", "https://app.example.com/qbo/callback")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("authorization url did not parse: %v", err)
	}
	if got := parsed.Scheme + "://" + parsed.Host + parsed.Path; got != intuitAuthURL {
		t.Fatalf("expected base %s, got %s", intuitAuthURL, got)
	}

	q := parsed.Query()
	expect := map[string]string{
		"client_id":     "abc123",
		"response_type": "code",
		"scope":         accountingScope,
		"redirect_uri":  "https://app.example.com/qbo/callback",
		"state":         "state-xyz",
	}
	for key, want := range expect {
		if got := q.Get(key); got != want {
			t.Fatalf("param %s: expected %q, got %q", key, want, got)
		}
	}
}

func TestExchangeCodePostsAuthorizationGrant(t *testing.T) {
	var gotForm url.Values
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"x_refresh_token_expires_in":8726400,"token_type":"bearer"}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	tokens, err := c.exchangeCode(context.Background(), "the-code", "https://app.example.com/cb")
	if err != nil {
		t.Fatalf("exchangeCode: %v", err)
	}

	if gotUser != "test-client-id" || gotPass != "test-client-secret" {
		t.Fatalf("expected basic auth with client credentials, got %s/%s", gotUser, gotPass)
	}
	if got := gotForm.Get("grant_type"); got != "authorization_code" {
		t.Fatalf("expected grant_type authorization_code, got %q", got)
	}
	if got := gotForm.Get("code"); got != "the-code" {
		t.Fatalf("expected code to be posted, got %q", got)
	}
	if got := gotForm.Get("redirect_uri"); got != "https://app.example.com/cb" {
		t.Fatalf("expected redirect_uri to be posted, got %q", got)
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" {
		t.Fatalf("unexpected token pair: %+v", tokens)
	}
	if tokens.ExpiresIn != 3600 {
		t.Fatalf("expected expires_in 3600, got %d", tokens.ExpiresIn)
	}
}

func TestRefreshTokensPostsRefreshGrant(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":3600}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	tokens, err := c.refreshTokens(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("refreshTokens: %v", err)
	}
	if got := gotForm.Get("grant_type"); got != "refresh_token" {
		t.Fatalf("expected grant_type refresh_token, got %q", got)
	}
	if got := gotForm.Get("refresh_token"); got != "rt-1" {
		t.Fatalf("expected old refresh token to be posted, got %q", got)
	}
	// Intuit rotates the refresh token; the new pair must replace the old.
	if tokens.RefreshToken != "rt-2" {
		t.Fatalf("expected rotated refresh token rt-2, got %q", tokens.RefreshToken)
	}
}

func TestTokenEndpointErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.refreshTokens(context.Background(), "revoked")
	if err == nil {
		t.Fatal("expected error for 400 token response")
	}
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.retryable() {
		t.Fatal("invalid_grant must not be retryable")
	}
}

func TestIncompleteTokenResponseIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"at-only"}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	if _, err := c.exchangeCode(context.Background(), "code", "uri"); err == nil {
		t.Fatal("expected error when refresh token is missing from response")
	}
}

func TestCreateInvoicePostsDocument(t *testing.T) {
	var gotPath, gotAuth, gotMinor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMinor = r.URL.Query().Get("minorversion")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Invoice":{"Id":"183","DocNumber":"INV-1042"}}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	envelope, err := c.createInvoice(context.Background(), "9341453", "at-1", []byte(`{"Line":[]}`))
	if err != nil {
		t.Fatalf("createInvoice: %v", err)
	}
	if gotPath != "/v3/company/9341453/invoice" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer at-1" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotMinor != minorVersion {
		t.Fatalf("expected minorversion %s, got %q", minorVersion, gotMinor)
	}
	if envelope.Invoice.Id != "183" || envelope.Invoice.DocNumber != "INV-1042" {
		t.Fatalf("unexpected invoice envelope: %+v", envelope)
	}
}

func TestCreateInvoiceFaultParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Fault":{"Error":[{"Message":"Invalid Reference Id","Detail":"CustomerRef value 9999 does not exist","code":"2500"}],"type":"ValidationFault"}}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.createInvoice(context.Background(), "realm", "at", []byte(`{}`))
	if err == nil {
		t.Fatal("expected fault error")
	}
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T", err)
	}
	if apiErr.Code != "2500" {
		t.Fatalf("expected fault code 2500, got %q", apiErr.Code)
	}
	if apiErr.Message != "Invalid Reference Id" {
		t.Fatalf("unexpected fault message %q", apiErr.Message)
	}
	if !strings.Contains(apiErr.Detail, "9999") {
		t.Fatalf("expected fault detail to carry the bad ref, got %q", apiErr.Detail)
	}
	if apiErr.retryable() {
		t.Fatal("validation faults must not be retryable")
	}
}

func TestCreateInvoiceNonJSONFaultFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.createInvoice(context.Background(), "realm", "at", []byte(`{}`))
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T", err)
	}
	if !strings.Contains(apiErr.Message, "upstream unavailable") {
		t.Fatalf("expected raw body in message, got %q", apiErr.Message)
	}
	if !apiErr.retryable() {
		t.Fatal("502 must be retryable")
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		e := &apiError{StatusCode: tc.status}
		if e.retryable() != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v", tc.status, tc.retryable)
		}
	}
}

func TestIsAuthError(t *testing.T) {
	if !isAuthError(&apiError{StatusCode: http.StatusUnauthorized}) {
		t.Fatal("401 apiError must be an auth error")
	}
	if isAuthError(&apiError{StatusCode: http.StatusBadRequest}) {
		t.Fatal("400 is not an auth error")
	}
	if isAuthError(nil) {
		t.Fatal("nil is not an auth error")
	}
	if isAuthError(context.DeadlineExceeded) {
		t.Fatal("plain errors are not auth errors")
	}
}

func TestNewQBOClientRequiresCredentials(t *testing.T) {
	t.Setenv("QBO_CLIENT_ID", "")
	t.Setenv("QBO_CLIENT_SECRET", "")
	if _, err := newQBOClient(); err == nil {
		t.Fatal("expected error without client credentials")
	}
}

func TestNewQBOClientEnvironmentSelection(t *testing.T) {
	t.Setenv("QBO_CLIENT_ID", "id")
	t.Setenv("QBO_CLIENT_SECRET", "secret")

	t.Setenv("QBO_ENVIRONMENT", "production")
	t.Setenv("QBO_API_BASE_URL", "")
	c, err := newQBOClient()
	if err != nil {
		t.Fatalf("newQBOClient: %v", err)
	}
	if c.baseURL != productionBaseURL {
		t.Fatalf("expected production base url, got %s", c.baseURL)
	}

	t.Setenv("QBO_ENVIRONMENT", "sandbox")
	c, err = newQBOClient()
	if err != nil {
		t.Fatalf("newQBOClient: %v", err)
	}
	if c.baseURL != sandboxBaseURL {
		t.Fatalf("expected sandbox base url, got %s", c.baseURL)
	}

	t.Setenv("QBO_API_BASE_URL", "http://127.0.0.1:9099")
	c, err = newQBOClient()
	if err != nil {
		t.Fatalf("newQBOClient: %v", err)
	}
	if c.baseURL != "http://127.0.0.1:9099" {
		t.Fatalf("expected env override base url, got %s", c.baseURL)
	}
}
