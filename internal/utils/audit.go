package utils

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocql/gocql"

	"cedra_fulfillment/internal/models"
)

type AuditSink interface {
	Record(ctx context.Context, entry models.AuditLog) error
}

// AuditFilter : champs vides ignorés
type AuditFilter struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Limit      int
}

func (f AuditFilter) matches(e models.AuditLog) bool {
	return (f.UserID == "" || e.UserID == f.UserID) &&
		(f.Action == "" || e.Action == f.Action) &&
		(f.Resource == "" || e.Resource == f.Resource) &&
		(f.ResourceID == "" || e.ResourceID == f.ResourceID)
}

type AuditReader interface {
	List(ctx context.Context, filter AuditFilter) ([]models.AuditLog, error)
}

// AuditLogger écrit dans la table audit_logs du keyspace commandes
type AuditLogger struct {
	session *gocql.Session
}

func NewAuditLogger(session *gocql.Session) *AuditLogger {
	return &AuditLogger{session: session}
}

func (a *AuditLogger) Record(ctx context.Context, e models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, user_id, user_email, action, resource, resource_id,
			old_value, new_value, ip_address, user_agent, success,
			error_msg, timestamp, session_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return a.session.Query(query,
		e.ID, e.UserID, e.UserEmail, e.Action,
		e.Resource, e.ResourceID, e.OldValue, e.NewValue,
		e.IPAddress, e.UserAgent, e.Success, e.ErrorMsg,
		e.Timestamp, e.SessionID,
	).WithContext(ctx).Exec()
}

// List construit la requête selon les filtres fournis
func (a *AuditLogger) List(ctx context.Context, f AuditFilter) ([]models.AuditLog, error) {
	query := `SELECT id, user_id, user_email, action, resource, resource_id,
		old_value, new_value, ip_address, user_agent, success,
		error_msg, timestamp, session_id FROM audit_logs`

	var conditions []string
	var args []interface{}
	for _, cond := range []struct{ column, value string }{
		{"user_id", f.UserID}, {"action", f.Action}, {"resource", f.Resource}, {"resource_id", f.ResourceID},
	} {
		if cond.value != "" {
			conditions = append(conditions, cond.column+" = ?")
			args = append(args, cond.value)
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " LIMIT ?"
	args = append(args, clampLimit(f.Limit))
	if len(conditions) > 0 {
		query += " ALLOW FILTERING"
	}

	iter := a.session.Query(query, args...).WithContext(ctx).Iter()
	var logs []models.AuditLog
	var e models.AuditLog
	for iter.Scan(&e.ID, &e.UserID, &e.UserEmail,
		&e.Action, &e.Resource, &e.ResourceID,
		&e.OldValue, &e.NewValue, &e.IPAddress,
		&e.UserAgent, &e.Success, &e.ErrorMsg,
		&e.Timestamp, &e.SessionID) {
		logs = append(logs, e)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sortAudit(logs)
	return logs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func sortAudit(logs []models.AuditLog) {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.After(logs[j].Timestamp) })
}

// MemoryAuditLog garde les entrées en mémoire (tests, environnement sans Scylla)
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *MemoryAuditLog) Record(_ context.Context, e models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryAuditLog) List(_ context.Context, f AuditFilter) ([]models.AuditLog, error) {
	m.mu.Lock()
	var out []models.AuditLog
	for _, e := range m.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()

	sortAudit(out)
	if limit := clampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryAuditLog) Entries() []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditLog(nil), m.entries...)
}

// LogAction enregistre une action dans les logs d'audit
func LogAction(sink AuditSink, c *gin.Context, action, resource, resourceID string, oldValue, newValue interface{}) {
	record(sink, buildEntry(c, action, resource, resourceID, oldValue, newValue, true, ""))
}

// LogFailedAction enregistre une action échouée dans les logs d'audit
func LogFailedAction(sink AuditSink, c *gin.Context, action, resource, resourceID, errorMsg string) {
	record(sink, buildEntry(c, action, resource, resourceID, nil, nil, false, errorMsg))
}

// l'entrée est construite tant que le contexte gin est valide, l'écriture part en tâche de fond
func record(sink AuditSink, entry models.AuditLog) {
	if sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Record(ctx, entry); err != nil {
			log.Printf("❌ Erreur enregistrement log audit: %v", err)
		}
	}()
}

func buildEntry(c *gin.Context, action, resource, resourceID string, oldValue, newValue interface{}, success bool, errorMsg string) models.AuditLog {
	return models.AuditLog{
		ID:         gocql.TimeUUID(),
		UserID:     c.GetString("user_id"),
		UserEmail:  c.GetString("email"),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		OldValue:   marshalValue(oldValue),
		NewValue:   marshalValue(newValue),
		IPAddress:  c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
		Success:    success,
		ErrorMsg:   errorMsg,
		Timestamp:  time.Now(),
		SessionID:  c.GetHeader("X-Session-ID"),
	}
}

func marshalValue(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Actions d'audit prédéfinies
const (
	ACTION_ORDER_DELETE      = "order.delete"
	ACTION_ORDER_HARD_DELETE = "order.hard_delete"
	ACTION_ORDER_RESTORE     = "order.restore"
	ACTION_ORDER_BULK_DELETE = "order.bulk_delete"
	ACTION_ORDER_REFUND      = "order.refund"

	ACTION_BOOKING_DELETE      = "booking.delete"
	ACTION_BOOKING_RESTORE     = "booking.restore"
	ACTION_BOOKING_BULK_DELETE = "booking.bulk_delete"
	ACTION_BOOKING_STATUS      = "booking.status"

	ACTION_CATALOG_INVALIDATE = "catalog.invalidate"
)

// Resources d'audit
const (
	RESOURCE_ORDER   = "order"
	RESOURCE_BOOKING = "booking"
	RESOURCE_PRODUCT = "product"
)
