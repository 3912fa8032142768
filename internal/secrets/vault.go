// Package secrets provides an encrypted, ACL-controlled credential vault.
//
// Data source credentials (DSNs, file access tokens) are encrypted at rest
// with AES-256-GCM and stored in SQLite. Each credential carries an ACL
// restricting which tenants may resolve it, with glob matching. Every
// resolution attempt, allowed or denied, is logged to an audit table.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
)

var (
	// ErrCredentialNotFound is returned when a credential ref does not
	// exist in the vault.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialAccessDenied is returned when the requesting tenant is
	// not permitted by the credential's ACL. The denial is still
	// audit-logged.
	ErrCredentialAccessDenied = errors.New("credential access denied by ACL")
	// ErrInvalidEncryptionKey is returned when the vault encryption key is
	// not exactly 32 bytes (required for AES-256).
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
)

var tracer = dqotel.Tracer("github.com/1274866478-stack/data-agent-sub005/internal/secrets")

// Vault manages encrypted credentials with ACL enforcement and audit
// logging. It satisfies datasource.CredentialSource.
type Vault struct {
	db  *sql.DB
	gcm cipher.AEAD
}

// Credential is a decrypted credential with metadata.
type Credential struct {
	Ref         string
	Value       string
	ACL         ACL
	CreatedAt   time.Time
	AccessedAt  time.Time
	AccessCount int
}

// CredentialMetadata is the public view of a credential (no plaintext).
type CredentialMetadata struct {
	Ref         string    `json:"ref"`
	ACL         ACL       `json:"acl"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
}

// AccessRecord is a single credential resolution audit entry.
type AccessRecord struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
}

// NewVault creates an encrypted credential vault backed by SQLite. The
// encryptionKey must be exactly 32 raw bytes or 64 hex characters.
func NewVault(dbPath string, encryptionKey string) (*Vault, error) {
	keyBytes, err := resolveEncryptionKey(encryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening vault database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		ref TEXT PRIMARY KEY,
		encrypted_value TEXT NOT NULL,
		nonce TEXT NOT NULL,
		acl_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		accessed_at TIMESTAMP,
		access_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS credential_access_log (
		id TEXT PRIMARY KEY,
		ref TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		allowed BOOLEAN NOT NULL,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cred_log_ref ON credential_access_log(ref);
	CREATE INDEX IF NOT EXISTS idx_cred_log_tenant ON credential_access_log(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_cred_log_timestamp ON credential_access_log(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Vault{db: db, gcm: gcm}, nil
}

// resolveEncryptionKey interprets the key as 32 raw bytes or 64 hex
// characters decoding to 32 bytes.
func resolveEncryptionKey(key string) ([]byte, error) {
	if len(key) == 64 && isHex(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("encryption key hex must decode to 32 bytes: %w", ErrInvalidEncryptionKey)
		}
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidEncryptionKey)
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Close releases the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Put stores an encrypted credential with ACL. Upserts on conflict.
func (v *Vault) Put(ctx context.Context, ref, value string, acl ACL) error {
	ctx, span := tracer.Start(ctx, "secrets.put",
		trace.WithAttributes(attribute.String("credential.ref", ref)))
	defer span.End()

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		span.RecordError(err)
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := v.gcm.Seal(nil, nonce, []byte(value), nil)
	encryptedValue := base64.StdEncoding.EncodeToString(ciphertext)
	nonceB64 := base64.StdEncoding.EncodeToString(nonce)

	aclJSON, err := json.Marshal(acl)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshaling ACL: %w", err)
	}

	query := `
		INSERT INTO credentials (ref, encrypted_value, nonce, acl_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			nonce = excluded.nonce,
			acl_json = excluded.acl_json
	`

	if _, err := v.db.ExecContext(ctx, query, ref, encryptedValue, nonceB64, string(aclJSON), time.Now()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing credential: %w", err)
	}

	return nil
}

// ResolveCredential retrieves and decrypts a credential after checking the
// tenant against its ACL. Both allowed and denied attempts are logged.
func (v *Vault) ResolveCredential(ctx context.Context, ref, tenantID string) (string, error) {
	cred, err := v.Get(ctx, ref, tenantID)
	if err != nil {
		return "", err
	}
	return cred.Value, nil
}

// Get retrieves and decrypts a credential with its metadata after checking
// the ACL.
func (v *Vault) Get(ctx context.Context, ref, tenantID string) (*Credential, error) {
	ctx, span := tracer.Start(ctx, "secrets.get",
		trace.WithAttributes(
			attribute.String("credential.ref", ref),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	var encryptedValue, nonceB64, aclJSON string
	var createdAt, accessedAt sql.NullTime
	var accessCount int

	query := `SELECT encrypted_value, nonce, acl_json, created_at, accessed_at, access_count
	          FROM credentials WHERE ref = ?`
	err := v.db.QueryRowContext(ctx, query, ref).Scan(
		&encryptedValue, &nonceB64, &aclJSON, &createdAt, &accessedAt, &accessCount,
	)

	if err == sql.ErrNoRows {
		v.logAccess(ctx, ref, tenantID, false, "credential not found")
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	var acl ACL
	if err := json.Unmarshal([]byte(aclJSON), &acl); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unmarshaling ACL: %w", err)
	}

	if !acl.CheckAccess(tenantID) {
		v.logAccess(ctx, ref, tenantID, false, "ACL denied")
		span.SetStatus(codes.Error, "ACL denied")
		return nil, fmt.Errorf("tenant %s not authorized for credential %s: %w", tenantID, ref, ErrCredentialAccessDenied)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}

	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decrypting credential: %w", err)
	}

	now := time.Now()
	_, _ = v.db.ExecContext(ctx, `UPDATE credentials SET accessed_at = ?, access_count = access_count + 1 WHERE ref = ?`,
		now, ref)

	v.logAccess(ctx, ref, tenantID, true, "")

	return &Credential{
		Ref:         ref,
		Value:       string(plaintext),
		ACL:         acl,
		CreatedAt:   createdAt.Time,
		AccessedAt:  now,
		AccessCount: accessCount + 1,
	}, nil
}

// List returns metadata for all credentials visible to a tenant. Values
// are never included.
func (v *Vault) List(ctx context.Context, tenantID string) ([]CredentialMetadata, error) {
	ctx, span := tracer.Start(ctx, "secrets.list",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	rows, err := v.db.QueryContext(ctx, `SELECT ref, acl_json, created_at, accessed_at, access_count FROM credentials`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var results []CredentialMetadata
	for rows.Next() {
		var ref, aclJSON string
		var createdAt, accessedAt sql.NullTime
		var accessCount int

		if err := rows.Scan(&ref, &aclJSON, &createdAt, &accessedAt, &accessCount); err != nil {
			continue
		}

		var acl ACL
		if err := json.Unmarshal([]byte(aclJSON), &acl); err != nil {
			continue
		}

		if acl.CheckAccess(tenantID) {
			results = append(results, CredentialMetadata{
				Ref:         ref,
				ACL:         acl,
				CreatedAt:   createdAt.Time,
				AccessedAt:  accessedAt.Time,
				AccessCount: accessCount,
			})
		}
	}

	return results, nil
}

// Rotate re-encrypts an existing credential with a fresh nonce.
func (v *Vault) Rotate(ctx context.Context, ref string) error {
	ctx, span := tracer.Start(ctx, "secrets.rotate",
		trace.WithAttributes(attribute.String("credential.ref", ref)))
	defer span.End()

	var encryptedValue, nonceB64, aclJSON string
	err := v.db.QueryRowContext(ctx, `SELECT encrypted_value, nonce, acl_json FROM credentials WHERE ref = ?`, ref).
		Scan(&encryptedValue, &nonceB64, &aclJSON)

	if err == sql.ErrNoRows {
		return ErrCredentialNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("querying credential: %w", err)
	}

	ciphertext, _ := base64.StdEncoding.DecodeString(encryptedValue)
	nonce, _ := base64.StdEncoding.DecodeString(nonceB64)
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("decrypting for rotation: %w", err)
	}

	var acl ACL
	if err := json.Unmarshal([]byte(aclJSON), &acl); err != nil {
		span.RecordError(err)
		return fmt.Errorf("unmarshaling ACL: %w", err)
	}

	return v.Put(ctx, ref, string(plaintext), acl)
}

// logAccess records resolution attempts for audit compliance.
func (v *Vault) logAccess(ctx context.Context, ref, tenantID string, allowed bool, reason string) {
	id := uuid.New().String()
	query := `INSERT INTO credential_access_log (id, ref, tenant_id, timestamp, allowed, reason)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, _ = v.db.ExecContext(ctx, query, id, ref, tenantID, time.Now(), allowed, reason)
}

// AuditLog returns access records for compliance review. Pass empty ref to
// get all records. Limit <= 0 means no limit.
func (v *Vault) AuditLog(ctx context.Context, ref string, limit int) ([]AccessRecord, error) {
	ctx, span := tracer.Start(ctx, "secrets.audit_log",
		trace.WithAttributes(attribute.String("credential.ref", ref)))
	defer span.End()

	query := `SELECT id, ref, tenant_id, timestamp, allowed, reason FROM credential_access_log`

	args := []interface{}{}
	if ref != "" {
		query += ` WHERE ref = ?`
		args = append(args, ref)
	}

	query += ` ORDER BY timestamp DESC`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var records []AccessRecord
	for rows.Next() {
		var r AccessRecord
		if err := rows.Scan(&r.ID, &r.Ref, &r.TenantID, &r.Timestamp, &r.Allowed, &r.Reason); err != nil {
			continue
		}
		records = append(records, r)
	}

	return records, nil
}
