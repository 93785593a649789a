package verify

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/qreview/internal/config"
)

const (
	testRegistryURL = "https://registry.test"
	testSiret       = "12345678901234"
)

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newTestRegistry() *Registry {
	return NewRegistry(config.RegistryConfig{
		BaseURL:    testRegistryURL,
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		UserAgent:  "QReview-test",
	})
}

func registerSearch(t *testing.T, responder httpmock.Responder) {
	t.Helper()
	httpmock.RegisterResponder(http.MethodGet, testRegistryURL+"/search", responder)
}

func TestRegistry_Lookup_Match(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewStringResponder(http.StatusOK, `{
		"results": [{"nom_complet": "ACME INDUSTRIES", "nom_raison_sociale": "ACME", "siege": {"siret": "12345678901234"}}]
	}`))

	company, err := newTestRegistry().Lookup(context.Background(), testSiret)

	require.NoError(t, err)
	assert.True(t, company.Valid)
	assert.Equal(t, "ACME INDUSTRIES", company.CompanyName)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_NameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"raison_sociale", `{"results":[{"nom_raison_sociale":"ACME SAS","siege":{"siret":"12345678901234"}}]}`, "ACME SAS"},
		{"no_name", `{"results":[{"siege":{"siret":"12345678901234"}}]}`, "Entreprise vérifiée"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHTTPMock(t)
			registerSearch(t, httpmock.NewStringResponder(http.StatusOK, tt.body))

			company, err := newTestRegistry().Lookup(context.Background(), testSiret)
			require.NoError(t, err)
			assert.True(t, company.Valid)
			assert.Equal(t, tt.want, company.CompanyName)
		})
	}
}

func TestRegistry_Lookup_NoMatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty_results", `{"results": []}`},
		{"other_siret", `{"results":[{"nom_complet":"OTHER","siege":{"siret":"99999999999999"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHTTPMock(t)
			registerSearch(t, httpmock.NewStringResponder(http.StatusOK, tt.body))

			company, err := newTestRegistry().Lookup(context.Background(), testSiret)
			require.NoError(t, err)
			assert.False(t, company.Valid)
			assert.Empty(t, company.CompanyName)
		})
	}
}

func TestRegistry_Lookup_MalformedSiretSkipsNetwork(t *testing.T) {
	setupHTTPMock(t)

	for _, siret := range []string{"", "123", "1234567890123A", "123456789012345"} {
		company, err := newTestRegistry().Lookup(context.Background(), siret)
		require.NoError(t, err)
		assert.False(t, company.Valid)
	}
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_RetriesOnceOnServerError(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway").
		Then(httpmock.NewStringResponder(http.StatusOK, `{"results":[{"nom_complet":"ACME","siege":{"siret":"12345678901234"}}]}`)))

	company, err := newTestRegistry().Lookup(context.Background(), testSiret)

	require.NoError(t, err)
	assert.True(t, company.Valid)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_GivesUpAfterRetryBudget(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	_, err := newTestRegistry().Lookup(context.Background(), testSiret)

	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_ClientErrorIsNotRetried(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewStringResponder(http.StatusBadRequest, `{"erreur":"bad query"}`))

	_, err := newTestRegistry().Lookup(context.Background(), testSiret)

	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_InvalidJSONIsNotRetried(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewStringResponder(http.StatusOK, `{invalid json`))

	_, err := newTestRegistry().Lookup(context.Background(), testSiret)

	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_TransportError(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewErrorResponder(assert.AnError))

	_, err := newTestRegistry().Lookup(context.Background(), testSiret)

	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestRegistry_Lookup_ThrottlesOutboundRequests(t *testing.T) {
	setupHTTPMock(t)
	registerSearch(t, httpmock.NewStringResponder(http.StatusOK,
		`{"results":[{"nom_complet":"ACME","siege":{"siret":"12345678901234"}}]}`))

	registry := NewRegistry(config.RegistryConfig{
		BaseURL:   testRegistryURL,
		Timeout:   time.Second,
		RateLimit: 0.1,
		Burst:     1,
	})

	_, err := registry.Lookup(context.Background(), testSiret)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = registry.Lookup(ctx, testSiret)

	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "the throttled lookup never reached the network")
}
