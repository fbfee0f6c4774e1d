package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeCarriesTripleFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	ForTriple("EURUSD", 3, 7).WithOperation(42).Infof("entry placed working=%d/%d", 2, 2)

	line := buf.String()
	assert.Contains(t, line, "instrument=EURUSD")
	assert.Contains(t, line, "agent=3")
	assert.Contains(t, line, "profile=7")
	assert.Contains(t, line, "op=42")
	assert.Contains(t, line, "entry placed working=2/2")
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		SetLevel("info")
		SetOutput(os.Stdout)
	}()

	SetLevel("info")
	Debugf("hidden")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	ForTriple("EURUSD", 1, 1).Debugf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestDecisionDumpGatesPayloads(t *testing.T) {
	var buf bytes.Buffer
	SetDecisionWriter(&buf)
	defer func() {
		SetDecisionWriter(nil)
		EnableDecisionPayloadDump(false)
	}()

	EnableDecisionPayloadDump(false)
	LogDecisionRequest("entry", "EURUSD", "c-1", `{"balance":10000}`)
	assert.Contains(t, buf.String(), "conversation=c-1")
	assert.NotContains(t, buf.String(), "balance")

	EnableDecisionPayloadDump(true)
	LogDecisionRequest("entry", "EURUSD", "c-2", `{"balance":10000}`)
	assert.Contains(t, buf.String(), "balance")

	LogDecisionResponse("entry", "EURUSD", `{"action":"skip"}`)
	assert.Contains(t, buf.String(), `{"action":"skip"}`)
}

func TestDecisionDumpSilentWithoutWriter(t *testing.T) {
	SetDecisionWriter(nil)
	// must not panic
	LogDecisionRequest("entry", "EURUSD", "c-1", "{}")
	LogDecisionResponse("entry", "EURUSD", "{}")
}
