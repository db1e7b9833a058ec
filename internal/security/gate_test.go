package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	require.True(t, Authorize("s3cret", "s3cret"))
	require.False(t, Authorize("s3cret ", "s3cret"))
	require.False(t, Authorize("S3CRET", "s3cret"))
	require.False(t, Authorize("", "s3cret"))
	require.False(t, Authorize("", ""))
	require.False(t, Authorize("anything", ""))
}

func TestSuppliedKeyHeaderTakesPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://proxy/orders?key=from-query", nil)
	r.Header.Set(ProxyKeyHeader, "from-header")

	require.Equal(t, "from-header", SuppliedKey(r, true))
	require.Equal(t, "from-header", SuppliedKey(r, false))
}

func TestSuppliedKeyQueryOnlyWhenAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://proxy/orders?key=from-query", nil)

	require.Equal(t, "from-query", SuppliedKey(r, true))
	require.Equal(t, "", SuppliedKey(r, false))
}
