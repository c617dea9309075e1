package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditLoggerRejectsIncompleteRecords(t *testing.T) {
	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "a", Entity: "user", EntityID: "u1"}))

	assert.Error(t, AuditLog{Entity: "user", EntityID: "u1"}.validate())
	assert.Error(t, AuditLog{Action: "rbac.role.assign", EntityID: "u1"}.validate())
	assert.NoError(t, AuditLog{Action: "rbac.role.assign", Entity: "user", EntityID: "u1"}.validate())
}
