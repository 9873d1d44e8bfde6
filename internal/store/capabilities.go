package store

import (
	"strings"
	"sync"
)

// capabilities tracks which SQL features the underlying engine accepted at
// runtime. Each flag starts unknown, is set the first time a statement is
// rejected, and is never reset for the life of the process: once a form has
// failed there is no point probing it again.
type capabilities struct {
	mu                        sync.Mutex
	deliveryUpsertUnsupported bool
	readUpsertUnsupported     bool
}

func (c *capabilities) deliveryUpsertBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliveryUpsertUnsupported
}

func (c *capabilities) markDeliveryUpsertBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveryUpsertUnsupported = true
}

func (c *capabilities) readUpsertBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readUpsertUnsupported
}

func (c *capabilities) markReadUpsertBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readUpsertUnsupported = true
}

// isUpsertUnsupportedError reports whether an error indicates the engine
// rejected the ON CONFLICT clause itself, as opposed to failing the statement
// for a transient or data reason.
func isUpsertUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "syntax error") ||
		strings.Contains(errStr, "near \"ON\"") ||
		strings.Contains(errStr, "ON CONFLICT clause does not match")
}
