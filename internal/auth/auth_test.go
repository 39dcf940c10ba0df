package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-proxy/internal/config"
)

const (
	testIssuer = "https://test-issuer.com"
	testOrg    = "0f8fad5bd9cb469fa16570867728950e"
)

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func fakeToken(t *testing.T, extra map[string]interface{}) string {
	t.Helper()
	claims := map[string]interface{}{
		"iss":   testIssuer,
		"aud":   "pipelines-api",
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": "user@acme.com",
	}
	for k, v := range extra {
		claims[k] = v
	}
	headerBytes, err := json.Marshal(map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func testAuth() *Auth {
	verifier := oidc.NewVerifier(testIssuer, &MockKeySet{}, &oidc.Config{ClientID: "pipelines-api"})
	return NewWithVerifier(verifier, "organizations", nil)
}

func serve(a *Auth, token, org string) *httptest.ResponseRecorder {
	e := echo.New()
	g := e.Group("/v1/organizations/:organization_uuid", a.RequireAuth(), RequireOrganization("organization_uuid"))
	g.GET("/pipelines", func(c echo.Context) error {
		p, ok := FromContext(c.Request().Context())
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, p.Subject)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/organizations/"+org+"/pipelines", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_BearerToken_Member(t *testing.T) {
	token := fakeToken(t, map[string]interface{}{"organizations": []string{testOrg}})

	rec := serve(testAuth(), token, testOrg)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "test-user", rec.Body.String())
}

func TestRequireAuth_NotAMember(t *testing.T) {
	token := fakeToken(t, map[string]interface{}{"organizations": []string{testOrg}})

	rec := serve(testAuth(), token, "11111111111111111111111111111111")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuth_MissingOrInvalidToken(t *testing.T) {
	a := testAuth()

	assert.Equal(t, http.StatusUnauthorized, serve(a, "", testOrg).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(a, "not.a.jwt-at-all", testOrg).Code)

	expired := fakeToken(t, map[string]interface{}{
		"organizations": []string{testOrg},
		"exp":           time.Now().Add(-time.Hour).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, serve(a, expired, testOrg).Code)
}

func TestAuthenticate_OrganizationsClaimShapes(t *testing.T) {
	a := testAuth()
	dashed := "0f8fad5b-d9cb-469f-a165-70867728950e"

	p, err := a.Authenticate(context.Background(), fakeToken(t, map[string]interface{}{"organizations": dashed}))
	require.NoError(t, err)
	assert.Equal(t, []string{testOrg}, p.Organizations)
	assert.Equal(t, "user@acme.com", p.Email)

	p, err = a.Authenticate(context.Background(), fakeToken(t, nil))
	require.NoError(t, err)
	assert.Empty(t, p.Organizations)
	assert.False(t, p.Member(testOrg))
}

func TestRequireAuth_BypassMode(t *testing.T) {
	cfg := &config.Config{Environment: "DEV", DevModeBypass: true}
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	rec := serve(a, "", testOrg)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DevSubject, rec.Body.String())
}

func TestNew_RequiresIssuer(t *testing.T) {
	_, err := New(context.Background(), &config.Config{Environment: "PROD"}, nil)
	assert.Error(t, err)
}
