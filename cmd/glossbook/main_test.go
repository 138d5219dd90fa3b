package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/glossbook/glossbook/internal/app"
	_ "github.com/glossbook/glossbook/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
