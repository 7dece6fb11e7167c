package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ScyllaConfig struct {
	Hosts      []string
	SSLEnabled bool
	CACertPath string

	OrdersKeyspace   string
	OrdersRole       string
	OrdersPassword   string
	ProductsKeyspace string
	ProductsRole     string
	ProductsPassword string
}

type RedisConfig struct {
	Addr     string
	Password string
}

type MinIOConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	EvidenceBucket string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type CardConfig struct {
	SecretKey     string
	WebhookSecret string
}

type WalletConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
}

type RedirectConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
}

// Config est construit une fois dans main puis passé aux constructeurs
type Config struct {
	Port        string
	JWTSecret   string
	FrontendURL string
	// ReturnBaseURL sert aux URLs de retour/annulation des sessions de paiement
	ReturnBaseURL string
	Currency      string

	Scylla   ScyllaConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	SMTP     SMTPConfig
	Card     CardConfig
	Wallet   WalletConfig
	Redirect RedirectConfig

	ProviderTimeout    time.Duration
	ProviderRetries    int
	IdempotencyTTL     time.Duration
	SweepInterval      time.Duration
	StaleAfter         time.Duration
	NotifyWorkers      int
	CheckoutRatePerMin int
}

func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  Aucun fichier .env trouvé — on continue avec les variables d'environnement du système")
	} else {
		log.Println("✅ Fichier .env chargé avec succès")
	}
	return FromEnv()
}

// FromEnv lit la configuration sans toucher au fichier .env
func FromEnv() Config {
	return Config{
		Port:          getenv("PORT", "8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		FrontendURL:   getenv("FRONTEND_URL", "http://localhost:3000"),
		ReturnBaseURL: getenv("PAYMENT_RETURN_BASE_URL", getenv("FRONTEND_URL", "http://localhost:3000")),
		Currency:      strings.ToUpper(getenv("CURRENCY", "EUR")),

		Scylla: ScyllaConfig{
			Hosts:            splitList(getenv("SCYLLA_HOSTS", "127.0.0.1")),
			SSLEnabled:       strings.ToLower(os.Getenv("SCYLLA_SSL_ENABLED")) == "true",
			CACertPath:       os.Getenv("SCYLLA_SSL_CA_PATH"),
			OrdersKeyspace:   getenv("SCYLLA_KS_ORDERS_KEYSPACE", "orders"),
			OrdersRole:       os.Getenv("SCYLLA_KS_ORDERS_ROLE"),
			OrdersPassword:   os.Getenv("SCYLLA_KS_ORDERS_PASSWORD"),
			ProductsKeyspace: os.Getenv("SCYLLA_KS_PRODUCTS_KEYSPACE"),
			ProductsRole:     os.Getenv("SCYLLA_KS_PRODUCTS_ROLE"),
			ProductsPassword: os.Getenv("SCYLLA_KS_PRODUCTS_PASSWORD"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_HOST", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		MinIO: MinIOConfig{
			Endpoint:       os.Getenv("MINIO_ENDPOINT"),
			AccessKey:      os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:      os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:         os.Getenv("MINIO_USE_SSL") == "true",
			EvidenceBucket: getenv("MINIO_EVIDENCE_BUCKET", "payment-evidence"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getint("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     getenv("SMTP_FROM", os.Getenv("SMTP_USER")),
		},
		Card: CardConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		Wallet: WalletConfig{
			ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
			BaseURL:      getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			WebhookID:    os.Getenv("PAYPAL_WEBHOOK_ID"),
		},
		Redirect: RedirectConfig{
			APIKey:        os.Getenv("REDIRECT_API_KEY"),
			BaseURL:       os.Getenv("REDIRECT_BASE_URL"),
			WebhookSecret: os.Getenv("REDIRECT_WEBHOOK_SECRET"),
		},

		ProviderTimeout:    getduration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderRetries:    getint("PROVIDER_RETRIES", 3),
		IdempotencyTTL:     getduration("IDEMPOTENCY_TTL", 24*time.Hour),
		SweepInterval:      getduration("RECONCILE_INTERVAL", 5*time.Minute),
		StaleAfter:         getduration("RECONCILE_STALE_AFTER", 15*time.Minute),
		NotifyWorkers:      getint("NOTIFY_WORKERS", 4),
		CheckoutRatePerMin: getint("CHECKOUT_RATE_PER_MINUTE", 20),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️ %s invalide (%q), valeur par défaut %d", key, v, fallback)
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️ %s invalide (%q), valeur par défaut %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
