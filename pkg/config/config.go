// Package config carga la configuración de la aplicación vía Viper
// (variables de entorno y opcionalmente archivo .env).
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación.
type Config struct {
	App  AppConfig
	DB   DBConfig
	JWT  JWTConfig
	HTTP HTTPConfig
	FEL  FELConfig
}

// AppConfig configuración general.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// FELConfig configuración del motor de certificación FEL (Guatemala, SAT).
type FELConfig struct {
	CertifierURL  string // URL base del certificador (ej. https://certificador.example.gt)
	CertifierUser string // usuario/prefijo asignado por el certificador
	CertifierKey  string // llave de firma de API del certificador
	IssuerNIT     string // NIT del emisor (la plataforma de eventos)
	IssuerName    string // razón social del emisor
	IssuerAddress string // dirección fiscal del emisor
	Establishment string // código de establecimiento registrado ante SAT

	RequestTimeout time.Duration // timeout por llamada al certificador
	MaxRetries     int           // reintentos a nivel factura antes de escalar
	RetryBaseDelay time.Duration // base del backoff exponencial
	RetryMaxDelay  time.Duration // tope del backoff

	SweepInterval  time.Duration // período del barrido de expiración
	StaleSentAfter time.Duration // umbral para reconciliar documentos atascados en "sent"
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN construye el connection string con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT para la superficie administrativa.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load lee la configuración desde variables de entorno (y opcionalmente .env).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, FEL_CERTIFIER_URL, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // el archivo es opcional

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:  getString(v, "APP_ENV", "development"),
			Name: getString(v, "APP_NAME", "fel-engine"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "fel_engine"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "fel-engine"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		FEL: FELConfig{
			CertifierURL:   getString(v, "FEL_CERTIFIER_URL", ""),
			CertifierUser:  getString(v, "FEL_CERTIFIER_USER", ""),
			CertifierKey:   getString(v, "FEL_CERTIFIER_KEY", ""),
			IssuerNIT:      getString(v, "FEL_ISSUER_NIT", ""),
			IssuerName:     getString(v, "FEL_ISSUER_NAME", ""),
			IssuerAddress:  getString(v, "FEL_ISSUER_ADDRESS", "Ciudad de Guatemala"),
			Establishment:  getString(v, "FEL_ESTABLISHMENT", "1"),
			RequestTimeout: getDuration(v, "FEL_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:     getInt(v, "FEL_MAX_RETRIES", 3),
			RetryBaseDelay: getDuration(v, "FEL_RETRY_BASE_DELAY", 30*time.Second),
			RetryMaxDelay:  getDuration(v, "FEL_RETRY_MAX_DELAY", 30*time.Minute),
			SweepInterval:  getDuration(v, "FEL_SWEEP_INTERVAL", 5*time.Minute),
			StaleSentAfter: getDuration(v, "FEL_STALE_SENT_AFTER", 10*time.Minute),
		},
	}

	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case string:
			n, _ := strconv.Atoi(v.GetString(key))
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		if d, err := time.ParseDuration(v.GetString(key)); err == nil {
			return d
		}
	}
	return def
}
