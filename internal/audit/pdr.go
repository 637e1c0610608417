// Package audit provides PDR (Process Decision Record) writing for dutyhub.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/dutyhub/internal/models"
)

// Outcomes recorded for duty decisions.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Sink persists decision records.
type Sink interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, dutyID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs any, outcome, dutyID, details string) (*models.PDREntry, error) {
	return w.sink.WritePDR(ctx, action, HashInputs(inputs), outcome, dutyID, details)
}

// HashInputs returns the hex SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
