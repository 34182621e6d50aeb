package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"rms-sync"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "Usage: rms-sync")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"rms-sync", "bogus"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), `unknown command "bogus"`)
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"rms-sync", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "reverse sync")
}

func TestRunSyncRejectsMissingCredentials(t *testing.T) {
	t.Setenv("SHOPIFY_SHOP_DOMAIN", "")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "")

	var out, errOut bytes.Buffer
	code := Run([]string{"rms-sync", "run", "-dry-run"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "SHOPIFY_SHOP_DOMAIN")
}
