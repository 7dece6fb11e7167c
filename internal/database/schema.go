package database

import (
	"fmt"
	"log"

	"github.com/gocql/gocql"
)

// Tables attendues dans le keyspace orders (scripts/orders_init.cql)
var orderTables = []string{
	"orders",
	"orders_by_number",
	"orders_by_reference",
	"order_reviews",
	"refunds",
	"bookings",
	"audit_logs",
}

// CheckOrdersSchema vérifie au démarrage que le schéma a bien été appliqué
func CheckOrdersSchema(session *gocql.Session) error {
	var missing []string
	for _, table := range orderTables {
		if err := session.Query(fmt.Sprintf("SELECT * FROM %s LIMIT 1", table)).Exec(); err != nil {
			log.Printf("❌ Table %s inaccessible: %v", table, err)
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schéma incomplet, tables manquantes: %v", missing)
	}
	log.Println("✅ Schéma orders vérifié")
	return nil
}
