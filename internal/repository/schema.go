package repository

// Schema definitions for the comprobante database.
// Compatible with both SQLite and PostgreSQL.

const schemaReceipts = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entity_id TEXT,
    valor TEXT,
    fecha TEXT,
    hora TEXT,
    entidad TEXT,
    referencia TEXT,
    descripcion TEXT,
    tipo_comprobante TEXT,
    image_meta TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_receipts_tenant ON receipts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_receipts_entity ON receipts(tenant_id, entity_id);
CREATE INDEX IF NOT EXISTS idx_receipts_referencia ON receipts(tenant_id, referencia);
CREATE INDEX IF NOT EXISTS idx_receipts_created ON receipts(tenant_id, created_at);
`

const schemaValidations = `
CREATE TABLE IF NOT EXISTS validations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    receipt_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    score INTEGER NOT NULL,
    status TEXT NOT NULL,
    action TEXT NOT NULL,
    check_results TEXT NOT NULL,
    findings TEXT,
    alerts TEXT,
    corrections TEXT,
    corrected_data TEXT,
    provenance TEXT,
    errors TEXT,
    process_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_validations_tenant ON validations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_validations_receipt ON validations(tenant_id, receipt_id);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_validations_timestamp ON validations(tenant_id, timestamp);
`

// schemaEntityProfiles defines the per-bank/wallet rule table. A profile row
// is versionless; updates overwrite in place and deletes are soft.
const schemaEntityProfiles = `
CREATE TABLE IF NOT EXISTS entity_profiles (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    aliases TEXT,
    reference_pattern TEXT,
    min_amount INTEGER NOT NULL DEFAULT 0,
    max_amount INTEGER NOT NULL DEFAULT 0,
    opens_at TEXT,
    closes_at TEXT,
    typical_min_amount INTEGER NOT NULL DEFAULT 0,
    typical_max_amount INTEGER NOT NULL DEFAULT 0,
    custom_rules TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_profiles_tenant ON entity_profiles(tenant_id);
CREATE INDEX IF NOT EXISTS idx_entity_profiles_enabled ON entity_profiles(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaReceipts,
		schemaValidations,
		schemaEntityProfiles,
	}
}
