package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janus-ipc/janus/internal/protocol"
)

func TestParseArgPairs(t *testing.T) {
	args, err := parseArgPairs([]string{"message=hi", "count=3", "flag=true", "items=[1,2]"})
	require.NoError(t, err)
	assert.Equal(t, "hi", args["message"])
	assert.Equal(t, float64(3), args["count"])
	assert.Equal(t, true, args["flag"])
	assert.Equal(t, []any{float64(1), float64(2)}, args["items"])
}

func TestParseArgPairsKeepsPlainStrings(t *testing.T) {
	args, err := parseArgPairs([]string{"note=a=b", "path=/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, "a=b", args["note"])
	assert.Equal(t, "/tmp/x", args["path"])
}

func TestParseArgPairsRejectsMalformed(t *testing.T) {
	_, err := parseArgPairs([]string{"no-equals"})
	require.Error(t, err)
	_, err = parseArgPairs([]string{"=value"})
	require.Error(t, err)
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{protocol.NewError(protocol.CodeValidationError, ""), exitValidation},
		{protocol.NewError(protocol.CodeInvalidParams, ""), exitValidation},
		{protocol.NewError(protocol.CodeTransportError, ""), exitTransport},
		{protocol.NewError(protocol.CodeTimeout, ""), exitTimeout},
		{protocol.NewError(protocol.CodeServerError, ""), exitFailure},
		{errors.New("plain failure"), exitFailure},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, exitCodeFor(tc.err), "error %v", tc.err)
	}
}
