package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tax/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"TAXJAR_STUB":            "true",
		"TAX_BASED_ON":           "",
		"TAX_EXEMPTION_HANDLING": "",
		"TAX_CACHE_TTL":          "",
		"TAX_NEXUS_REGIONS":      "",
		"TAXJAR_BASE_URL":        "",
		"TAXJAR_PLUGIN":          "",
	})
	require.NoError(t, err)
	require.Equal(t, config.BasisShipping, cfg.Tax.BasedOn)
	require.Equal(t, config.ExemptionForward, cfg.Tax.ExemptionHandling)
	require.Equal(t, time.Hour, cfg.Tax.CacheTTL)
	require.Equal(t, "https://api.taxjar.com", cfg.TaxJar.BaseURL)
	require.Equal(t, "toko", cfg.TaxJar.Plugin)
	require.Equal(t, 5*time.Second, cfg.TaxJar.Timeout)
	require.True(t, cfg.Tax.BaseForLocalPickup)
	require.Equal(t, []string{"legacy_local_pickup", "local_pickup"}, cfg.Tax.LocalPickupMethods)
	require.Empty(t, cfg.Tax.NexusRegions)
}

func TestLoadStoreAndNexus(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"TAXJAR_API_TOKEN":  "secret",
		"TAXJAR_STUB":       "",
		"STORE_COUNTRY":     "us:ca",
		"STORE_POSTCODE":    "94107",
		"TAX_NEXUS_REGIONS": "us-ny, ca",
		"TAX_BASED_ON":      "Billing",
	})
	require.NoError(t, err)
	require.Equal(t, "US", cfg.Store.Country)
	require.Equal(t, "CA", cfg.Store.State)
	require.Equal(t, "94107", cfg.Store.Postcode)
	require.Equal(t, []string{"US-NY", "CA"}, cfg.Tax.NexusRegions)
	require.Equal(t, config.BasisBilling, cfg.Tax.BasedOn)
}

func TestLoadRejectsInvalidEnums(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"TAXJAR_STUB":            "true",
		"TAX_BASED_ON":           "warehouse",
		"TAX_EXEMPTION_HANDLING": "drop",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "TAX_BASED_ON")
	require.Contains(t, err.Error(), "TAX_EXEMPTION_HANDLING")
}

func TestLoadRequiresTokenWithoutStub(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"TAXJAR_STUB":      "false",
		"TAXJAR_API_TOKEN": "",
	})
	require.ErrorContains(t, err, "TAXJAR_API_TOKEN")
}

func TestHTTPAddr(t *testing.T) {
	require.Equal(t, ":9000", (&config.Config{Port: "9000"}).HTTPAddr())
	require.Equal(t, ":8080", (&config.Config{}).HTTPAddr())
}

func TestLoadHTTPGuards(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"TAXJAR_STUB":           "true",
		"HTTP_BODY_LIMIT_BYTES": "",
		"HTTP_RATE_LIMIT":       "120-M",
		"SECURE_HEADERS":        "false",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), cfg.HTTP.BodyLimit)
	require.Equal(t, "120-M", cfg.HTTP.RateLimit)
	require.False(t, cfg.HTTP.SecureHeaders)

	_, err = config.LoadForTests(map[string]string{"TAXJAR_STUB": "true", "HTTP_BODY_LIMIT_BYTES": "-1"})
	require.ErrorContains(t, err, "HTTP_BODY_LIMIT_BYTES")
}
