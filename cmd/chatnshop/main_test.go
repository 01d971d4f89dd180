package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/taxonomy"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("load config: bad value")))
	assert.Equal(t, 2, exitCode(depUnavailable(errors.New("qdrant: dial tcp: connection refused"))))

	// Wrapping along the way must not lose the classification.
	wrapped := fmt.Errorf("startup: %w", depUnavailable(errors.New("qdrant collection: unavailable")))
	assert.Equal(t, 2, exitCode(wrapped))
}

func TestActionCodesSortedUnion(t *testing.T) {
	intents := map[model.ActionCode]taxonomy.IntentDefinition{
		"TRACK_ORDER": {},
		"ADD_TO_CART": {},
	}
	keywords := map[model.ActionCode]taxonomy.KeywordEntry{
		"ADD_TO_CART":  {},
		"CANCEL_ORDER": {},
	}

	got := actionCodes(intents, keywords)
	assert.Equal(t, []model.ActionCode{"ADD_TO_CART", "CANCEL_ORDER", "TRACK_ORDER"}, got)
}
