package fel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticTokens entrega siempre el mismo bearer y registra invalidaciones.
type staticTokens struct {
	token       string
	invalidated atomic.Bool
}

func (s *staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate(ctx context.Context)            { s.invalidated.Store(true) }

func newTestClient(srv *httptest.Server) (*Client, *staticTokens) {
	tokens := &staticTokens{token: "bearer-de-prueba"}
	client := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		User:      "usuario",
		APIKey:    "llave",
		IssuerNIT: "12345679",
	}, tokens)
	return client, tokens
}

// ── AuthClient ────────────────────────────────────────────────────────────────

func TestAuthClient_Exitoso(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fel/v2/token", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "usuario", req["usuario"])
		assert.Equal(t, "llave", req["llave"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "tok-abc", "expira_en": 86400,
		})
	}))
	defer srv.Close()

	auth := NewAuthClient(ClientConfig{BaseURL: srv.URL, User: "usuario", APIKey: "llave"})
	result, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", result.AccessToken)
	assert.Equal(t, 24*time.Hour, result.ExpiresIn)
}

func TestAuthClient_CredencialesInvalidas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"codigo": "401", "mensaje": "llave inválida"})
	}))
	defer srv.Close()

	auth := NewAuthClient(ClientConfig{BaseURL: srv.URL})
	_, err := auth.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "401", authErr.Code)
}

func TestAuthClient_ErrorDeServidor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	auth := NewAuthClient(ClientConfig{BaseURL: srv.URL})
	_, err := auth.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err), "un 5xx del certificador es transitorio")
}

// ── Certify ───────────────────────────────────────────────────────────────────

func TestClient_Certify_Exitoso(t *testing.T) {
	const dte = `<dte:GTDocumento/>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fel/v2/certificar", r.URL.Path)
		assert.Equal(t, "Bearer bearer-de-prueba", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "12345679", req["nit_emisor"])
		assert.Equal(t, "ref-001", req["referencia_interna"])

		decoded, err := base64.StdEncoding.DecodeString(req["documento"])
		require.NoError(t, err)
		assert.Equal(t, dte, string(decoded), "el DTE viaja en Base64")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"uuid":                "AUTH-0001",
			"fecha_certificacion": "2026-03-10T09:00:05-06:00",
			"serie":               "A1",
			"numero":              42,
			"xml_certificado":     base64.StdEncoding.EncodeToString([]byte("<certificado/>")),
			"qr":                  "https://verificador",
		})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	result, err := client.Certify(context.Background(), "ref-001", dte)
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, "AUTH-0001", result.AuthorizationNumber)
	assert.Equal(t, "A1", result.Series)
	assert.Equal(t, int64(42), result.Number)
	assert.Equal(t, "<certificado/>", result.CertifiedXML)
	assert.False(t, result.AuthorizationDate.IsZero())
	assert.NotEmpty(t, result.Raw)
}

func TestClient_Certify_Rechazo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"codigo": "40", "mensaje": "NIT del receptor no existe",
		})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	result, err := client.Certify(context.Background(), "ref-001", "<dte/>")
	require.NoError(t, err, "un rechazo bien formado es un resultado, no un error")

	assert.False(t, result.Accepted)
	assert.Equal(t, "40", result.ErrorCode)
	assert.Equal(t, "NIT del receptor no existe", result.ErrorMessage)
}

func TestClient_Certify_4xxSinCodigoEsFallaDeRed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("<html>puerta de enlace confundida</html>"))
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	_, err := client.Certify(context.Background(), "ref-001", "<dte/>")
	require.Error(t, err)
	assert.True(t, IsTransient(err), "un 4xx sin código de rechazo no es un rechazo de negocio")
}

func TestClient_Certify_TokenRechazado(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"codigo": "401", "mensaje": "token vencido"})
	}))
	defer srv.Close()

	client, tokens := newTestClient(srv)
	_, err := client.Certify(context.Background(), "ref-001", "<dte/>")
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
	assert.True(t, tokens.invalidated.Load(), "un 401 debe invalidar el token cacheado")
}

func TestClient_Certify_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "tok"}
	client := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, tokens)

	_, err := client.Certify(context.Background(), "ref-001", "<dte/>")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, IsTimeout(err))
}

// ── QueryStatus ───────────────────────────────────────────────────────────────

func TestClient_QueryStatus_Certificado(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fel/v2/consultar/ref-001", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"estado": "CERTIFICADO",
			"uuid":   "AUTH-0001",
			"serie":  "A1",
			"numero": 42,
		})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	st, err := client.QueryStatus(context.Background(), "ref-001")
	require.NoError(t, err)
	assert.Equal(t, RemoteStatusCertified, st.Status)
	assert.Equal(t, "AUTH-0001", st.AuthorizationNumber)
}

func TestClient_QueryStatus_EstadosRemotos(t *testing.T) {
	tests := []struct {
		estado string
		want   string
	}{
		{"CERTIFICADO", RemoteStatusCertified},
		{"RECHAZADO", RemoteStatusRejected},
		{"ANULADO", RemoteStatusCancelled},
		{"EN_PROCESO", RemoteStatusInProcess},
	}
	for _, tt := range tests {
		t.Run(tt.estado, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"estado": tt.estado})
			}))
			defer srv.Close()

			client, _ := newTestClient(srv)
			st, err := client.QueryStatus(context.Background(), "ref")
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Status)
		})
	}
}

func TestClient_QueryStatus_SinRegistro(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	st, err := client.QueryStatus(context.Background(), "ref-desconocida")
	require.NoError(t, err, "un 404 no es error: el certificador no conoce el documento")
	assert.Equal(t, RemoteStatusUnknown, st.Status)
}

// ── Cancel ────────────────────────────────────────────────────────────────────

func TestClient_Cancel_Exitoso(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fel/v2/anular", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AUTH-0001", req["uuid"])
		assert.Equal(t, "inscripción cancelada", req["motivo"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	err := client.Cancel(context.Background(), "AUTH-0001", "inscripción cancelada")
	require.NoError(t, err)
}

func TestClient_Cancel_Rechazada(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"codigo": "90", "mensaje": "fuera de ventana"})
	}))
	defer srv.Close()

	client, _ := newTestClient(srv)
	err := client.Cancel(context.Background(), "AUTH-0001", "tarde")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "90")
}
