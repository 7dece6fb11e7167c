package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"cedra_fulfillment/internal/config"
)

// --- Configuration ScyllaDB ---
type ScyllaKeyspaceConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	SSLEnabled  bool
	CACertPath  string
	Timeout     time.Duration
	NumConns    int
	Consistency gocql.Consistency
}

type ScyllaManager struct {
	sessions map[string]*gocql.Session // keyspace → session
	configs  map[string]ScyllaKeyspaceConfig
	mu       sync.Mutex
}

// Connections regroupe les pools partagés ; c'est le seul état process-wide
type Connections struct {
	Scylla *ScyllaManager
	Redis  *redis.Client
	MinIO  *minio.Client

	ordersKeyspace   string
	productsKeyspace string
}

// --- Initialisation ---
func Connect(cfg config.Config) (*Connections, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conns := &Connections{
		ordersKeyspace:   cfg.Scylla.OrdersKeyspace,
		productsKeyspace: cfg.Scylla.ProductsKeyspace,
	}

	// 1. ScyllaDB (un keyspace par domaine)
	scylla, err := NewScyllaManager(keyspaceConfigs(cfg.Scylla))
	if err != nil {
		return nil, fmt.Errorf("initialisation ScyllaDB: %w", err)
	}
	conns.Scylla = scylla

	// 2. Redis
	conns.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := conns.Redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connexion Redis: %w", err)
	}
	log.Println("✅ Connecté à Redis")

	// 3. MinIO, optionnel : sans lui les preuves ne sont pas archivées
	if cfg.MinIO.Endpoint != "" {
		client, err := connectMinIO(ctx, cfg.MinIO)
		if err != nil {
			log.Printf("⚠️ MinIO indisponible, archivage des preuves désactivé: %v", err)
		} else {
			conns.MinIO = client
		}
	}

	log.Println("✅ Toutes les bases de données sont connectées")
	return conns, nil
}

func keyspaceConfigs(cfg config.ScyllaConfig) map[string]ScyllaKeyspaceConfig {
	configs := make(map[string]ScyllaKeyspaceConfig)
	base := ScyllaKeyspaceConfig{
		Hosts:       cfg.Hosts,
		SSLEnabled:  cfg.SSLEnabled,
		CACertPath:  cfg.CACertPath,
		Timeout:     5 * time.Second,
		NumConns:    20,
		Consistency: gocql.Quorum,
	}

	// --- Keyspace Commandes ---
	orders := base
	orders.Keyspace, orders.Username, orders.Password = cfg.OrdersKeyspace, cfg.OrdersRole, cfg.OrdersPassword
	configs[orders.Keyspace] = orders

	// --- Keyspace Produits (catalogue de prix) ---
	if cfg.ProductsKeyspace != "" {
		products := base
		products.Keyspace, products.Username, products.Password = cfg.ProductsKeyspace, cfg.ProductsRole, cfg.ProductsPassword
		configs[products.Keyspace] = products
	}
	return configs
}

func NewScyllaManager(configs map[string]ScyllaKeyspaceConfig) (*ScyllaManager, error) {
	sm := &ScyllaManager{
		sessions: make(map[string]*gocql.Session),
		configs:  configs,
	}
	for keyspace := range configs {
		if _, err := sm.GetSession(keyspace); err != nil {
			return nil, fmt.Errorf("échec initialisation keyspace %s: %w", keyspace, err)
		}
	}
	// Les tables sont créées via scripts/orders_init.cql
	return sm, nil
}

// createScyllaCluster crée une configuration de cluster pour un keyspace
func createScyllaCluster(config ScyllaKeyspaceConfig) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = config.Consistency
	// LWT : les IF NOT EXISTS / IF version = ? passent en SERIAL
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = config.Timeout
	cluster.NumConns = config.NumConns
	cluster.MaxWaitSchemaAgreement = 30 * time.Second
	cluster.ReconnectInterval = 1 * time.Second
	if config.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	if config.SSLEnabled && config.CACertPath != "" {
		caCert, err := os.ReadFile(config.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("impossible de lire le certificat CA: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("impossible de parser le certificat CA")
		}
		cluster.SslOpts = &gocql.SslOptions{Config: &tls.Config{RootCAs: caCertPool}}
	}

	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster, nil
}

// GetSession retourne une session pour un keyspace donné
func (sm *ScyllaManager) GetSession(keyspace string) (*gocql.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	config, exists := sm.configs[keyspace]
	if !exists {
		return nil, fmt.Errorf("keyspace '%s' non configuré", keyspace)
	}

	if session, exists := sm.sessions[keyspace]; exists && !session.Closed() {
		return session, nil
	}

	cluster, err := createScyllaCluster(config)
	if err != nil {
		return nil, fmt.Errorf("erreur configuration cluster pour %s: %w", keyspace, err)
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("erreur création session pour %s: %w", keyspace, err)
	}

	sm.sessions[keyspace] = session
	log.Printf("✅ Nouvelle session ScyllaDB pour keyspace '%s' (utilisateur: %s)", keyspace, config.Username)
	return session, nil
}

func (sm *ScyllaManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for keyspace, session := range sm.sessions {
		session.Close()
		log.Printf("🔌 Session ScyllaDB fermée pour keyspace '%s'", keyspace)
	}
}

func (c *Connections) OrdersSession() (*gocql.Session, error) {
	return c.Scylla.GetSession(c.ordersKeyspace)
}

// ProductsSession renvoie nil, nil quand aucun keyspace catalogue n'est configuré
func (c *Connections) ProductsSession() (*gocql.Session, error) {
	if c.productsKeyspace == "" {
		return nil, nil
	}
	return c.Scylla.GetSession(c.productsKeyspace)
}

func (c *Connections) Close() {
	if c.Scylla != nil {
		c.Scylla.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Printf("⚠️ Fermeture Redis: %v", err)
		}
	}
}

// =============================================
// MINIO (archive des preuves de revue manuelle)
// =============================================
func connectMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.EvidenceBucket)
	if err != nil {
		return nil, fmt.Errorf("vérification bucket %s: %w", cfg.EvidenceBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.EvidenceBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("création bucket %s: %w", cfg.EvidenceBucket, err)
		}
		log.Println("🪣 Bucket créé :", cfg.EvidenceBucket)
	} else {
		log.Println("🪣 Bucket MinIO déjà présent :", cfg.EvidenceBucket)
	}

	log.Println("✅ Connecté à MinIO :", cfg.Endpoint)
	return client, nil
}
