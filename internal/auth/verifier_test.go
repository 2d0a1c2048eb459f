package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoice/internal/common"
)

const testSecret = "super-secret-key"

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: testSecret, Issuer: "identity", Audience: "invoice-api", ClockSkew: time.Second})
	require.NoError(t, err)
	return v.WithNow(func() time.Time { return now })
}

func signToken(t *testing.T, alg jwa.SignatureAlgorithm, subject string, now time.Time, ttl time.Duration) string {
	t.Helper()
	built, err := jwt.NewBuilder().
		Subject(subject).
		Issuer("identity").
		Audience([]string{"invoice-api"}).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(alg, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func TestParseAccessTokenSuccess(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, now)
	subject, err := v.ParseAccessToken(signToken(t, jwa.HS256, "user-id", now, time.Minute))
	require.NoError(t, err)
	require.Equal(t, "user-id", subject)
}

func TestParseAccessTokenRejects(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(t, now)

	cases := map[string]string{
		"algorithm mismatch": signToken(t, jwa.HS384, "user-id", now, time.Minute),
		"expired":            signToken(t, jwa.HS256, "user-id", now.Add(-time.Hour), time.Minute),
		"no subject":         signToken(t, jwa.HS256, "", now, time.Minute),
		"garbage":            "not-a-token",
		"empty":              "  ",
	}
	for name, token := range cases {
		_, err := v.ParseAccessToken(token)
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr, name)
		require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus, name)
	}
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	other, err := NewVerifier(Config{Secret: "another-secret", Issuer: "identity", Audience: "invoice-api"})
	require.NoError(t, err)
	other.WithNow(func() time.Time { return now })
	_, err = other.ParseAccessToken(signToken(t, jwa.HS256, "user-id", now, time.Minute))
	require.Error(t, err)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	require.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	now := time.Now()
	mw := Middleware{Verifier: newTestVerifier(t, now)}
	var gotUser, gotToken string
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = common.UserID(r.Context())
		gotToken, _ = common.AccessToken(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token := signToken(t, jwa.HS256, "user-42", now, time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fee-types", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "user-42", gotUser)
	require.Equal(t, token, gotToken)

	for _, header := range []string{"", "Basic abc", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/fee-types", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code, header)
		require.Contains(t, rr.Body.String(), "UNAUTHORIZED")
	}
}
