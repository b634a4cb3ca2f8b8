package fel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout por llamada al certificador. Un timeout se clasifica como
// falla de red, nunca como rechazo.
const defaultTimeout = 30 * time.Second

// maxResponseBytes límite de lectura de respuestas del certificador (1 MB).
const maxResponseBytes = 1 << 20

// ClientConfig configuración del cliente REST del certificador.
type ClientConfig struct {
	BaseURL       string // ej. https://certificador.example.gt
	CertifierName string // identificador del certificador (para tokens y logs)
	User          string // usuario/prefijo asignado por el certificador
	APIKey        string // llave de API
	IssuerNIT     string // NIT del emisor
	Timeout       time.Duration
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// ── AuthClient ────────────────────────────────────────────────────────────────

// AuthClient intercambia las credenciales configuradas por un token bearer.
// Es la dependencia hoja del TokenStore.
type AuthClient struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewAuthClient construye el cliente de autenticación.
func NewAuthClient(cfg ClientConfig) *AuthClient {
	return &AuthClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.timeout()},
	}
}

type authRequest struct {
	Usuario string `json:"usuario"`
	Llave   string `json:"llave"`
}

type authResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiraEn     int64  `json:"expira_en"` // segundos de vida útil
	Codigo       string `json:"codigo"`
	Mensaje      string `json:"mensaje"`
}

// Authenticate solicita un token nuevo. Credenciales inválidas producen
// AuthenticationError; fallas de transporte, NetworkError.
func (a *AuthClient) Authenticate(ctx context.Context) (*AuthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.timeout())
	defer cancel()

	payload, _ := json.Marshal(authRequest{Usuario: a.cfg.User, Llave: a.cfg.APIKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/fel/v2/token", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("fel: crear request de autenticación: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransport("authenticate", ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, wrapTransport("authenticate", ctx, err)
	}

	var parsed authResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &parsed); err != nil || parsed.Token == "" {
			return nil, &NetworkError{Op: "authenticate",
				Err: fmt.Errorf("respuesta de token inválida: %s", string(body))}
		}
		return &AuthResult{
			AccessToken:  parsed.Token,
			RefreshToken: parsed.RefreshToken,
			ExpiresIn:    time.Duration(parsed.ExpiraEn) * time.Second,
		}, nil
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		_ = json.Unmarshal(body, &parsed)
		return nil, &AuthenticationError{Code: parsed.Codigo, Message: parsed.Mensaje}
	}
	return nil, &NetworkError{Op: "authenticate",
		Err: fmt.Errorf("certificador respondió HTTP %d", resp.StatusCode)}
}

// ── Client (Certifier) ────────────────────────────────────────────────────────

var _ Certifier = (*Client)(nil)

// Client implementa Certifier contra la API REST del certificador.
// Obtiene el bearer del TokenProvider en cada llamada.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	tokens     TokenProvider
}

// NewClient construye el cliente de certificación.
func NewClient(cfg ClientConfig, tokens TokenProvider) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.timeout()},
		tokens:     tokens,
	}
}

type certifyRequest struct {
	NITEmisor  string `json:"nit_emisor"`
	Referencia string `json:"referencia_interna"` // UUID local, clave de idempotencia
	Documento  string `json:"documento"`          // DTE en Base64
}

type certifyResponse struct {
	UUID               string `json:"uuid"`
	FechaCertificacion string `json:"fecha_certificacion"`
	Serie              string `json:"serie"`
	Numero             int64  `json:"numero"`
	XMLCertificado     string `json:"xml_certificado"` // Base64
	QR                 string `json:"qr"`
	Codigo             string `json:"codigo"`
	Mensaje            string `json:"mensaje"`
}

// Certify envía el DTE. Un 4xx con código del certificador es un rechazo
// (resultado normal); 401/403 invalida el token y devuelve AuthenticationError.
func (c *Client) Certify(ctx context.Context, reference, xmlContent string) (*CertifyResult, error) {
	body := certifyRequest{
		NITEmisor:  c.cfg.IssuerNIT,
		Referencia: reference,
		Documento:  base64.StdEncoding.EncodeToString([]byte(xmlContent)),
	}
	raw, status, err := c.post(ctx, "certify", "/fel/v2/certificar", body)
	if err != nil {
		return nil, err
	}

	var parsed certifyResponse
	switch {
	case status == http.StatusOK:
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &NetworkError{Op: "certify",
				Err: fmt.Errorf("respuesta de certificación no parseable: %s", string(raw))}
		}
		return &CertifyResult{
			Accepted:            true,
			AuthorizationNumber: parsed.UUID,
			AuthorizationDate:   parseDate(parsed.FechaCertificacion),
			Series:              parsed.Serie,
			Number:              parsed.Numero,
			CertifiedXML:        decodeXML(parsed.XMLCertificado),
			QRCode:              parsed.QR,
			Raw:                 string(raw),
		}, nil

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.tokens.Invalidate(ctx)
		_ = json.Unmarshal(raw, &parsed)
		return nil, &AuthenticationError{Code: parsed.Codigo, Message: parsed.Mensaje}

	case status >= 400 && status < 500:
		// Rechazo de negocio bien formado: no es falla de transporte.
		if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Codigo == "" {
			return nil, &NetworkError{Op: "certify",
				Err: fmt.Errorf("HTTP %d sin código de rechazo: %s", status, string(raw))}
		}
		return &CertifyResult{
			Accepted:     false,
			ErrorCode:    parsed.Codigo,
			ErrorMessage: parsed.Mensaje,
			Raw:          string(raw),
		}, nil

	default:
		return nil, &NetworkError{Op: "certify",
			Err: fmt.Errorf("certificador respondió HTTP %d", status)}
	}
}

type queryResponse struct {
	Estado             string `json:"estado"` // CERTIFICADO | RECHAZADO | ANULADO | EN_PROCESO
	UUID               string `json:"uuid"`
	FechaCertificacion string `json:"fecha_certificacion"`
	Serie              string `json:"serie"`
	Numero             int64  `json:"numero"`
	XMLCertificado     string `json:"xml_certificado"`
	QR                 string `json:"qr"`
	Codigo             string `json:"codigo"`
	Mensaje            string `json:"mensaje"`
}

// remoteStatus normaliza el estado que reporta el certificador.
func remoteStatus(estado string) string {
	switch estado {
	case "CERTIFICADO":
		return RemoteStatusCertified
	case "RECHAZADO":
		return RemoteStatusRejected
	case "ANULADO":
		return RemoteStatusCancelled
	default:
		return RemoteStatusInProcess
	}
}

// QueryStatus consulta idempotente por número de autorización o referencia
// interna. Un 404 significa que el certificador no conoce el documento.
func (c *Client) QueryStatus(ctx context.Context, reference string) (*StatusResult, error) {
	raw, status, err := c.get(ctx, "query_status", "/fel/v2/consultar/"+reference)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return &StatusResult{Status: RemoteStatusUnknown, Raw: string(raw)}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.tokens.Invalidate(ctx)
		return nil, &AuthenticationError{Message: "token rechazado en consulta"}
	case status != http.StatusOK:
		return nil, &NetworkError{Op: "query_status",
			Err: fmt.Errorf("certificador respondió HTTP %d", status)}
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &NetworkError{Op: "query_status",
			Err: fmt.Errorf("respuesta de consulta no parseable: %s", string(raw))}
	}
	return &StatusResult{
		Status:              remoteStatus(parsed.Estado),
		AuthorizationNumber: parsed.UUID,
		AuthorizationDate:   parseDate(parsed.FechaCertificacion),
		Series:              parsed.Serie,
		Number:              parsed.Numero,
		CertifiedXML:        decodeXML(parsed.XMLCertificado),
		QRCode:              parsed.QR,
		ErrorCode:           parsed.Codigo,
		ErrorMessage:        parsed.Mensaje,
		Raw:                 string(raw),
	}, nil
}

type cancelRequest struct {
	UUID      string `json:"uuid"`
	Motivo    string `json:"motivo"`
	NITEmisor string `json:"nit_emisor"`
}

// Cancel anula el documento. Cualquier falla se devuelve tal cual: la
// anulación nunca se reintenta en silencio.
func (c *Client) Cancel(ctx context.Context, authorizationNumber, reason string) error {
	body := cancelRequest{UUID: authorizationNumber, Motivo: reason, NITEmisor: c.cfg.IssuerNIT}
	raw, status, err := c.post(ctx, "cancel", "/fel/v2/anular", body)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.tokens.Invalidate(ctx)
		return &AuthenticationError{Message: "token rechazado en anulación"}
	default:
		var parsed certifyResponse
		_ = json.Unmarshal(raw, &parsed)
		return fmt.Errorf("fel: anulación rechazada por el certificador [%s] HTTP %d: %s",
			parsed.Codigo, status, parsed.Mensaje)
	}
}

// ── helpers HTTP ──────────────────────────────────────────────────────────────

func (c *Client) post(ctx context.Context, op, path string, body interface{}) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("fel: serializar payload de %s: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, payload)
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, int, error) {
	return c.do(ctx, op, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("fel: crear request de %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, wrapTransport(op, ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, wrapTransport(op, ctx, err)
	}
	return raw, resp.StatusCode, nil
}

// decodeXML acepta tanto Base64 como XML en claro (varía por certificador).
func decodeXML(s string) string {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) > 0 {
		return string(decoded)
	}
	return s
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
