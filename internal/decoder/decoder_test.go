package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewiresh/dcon/internal/protocol"
)

func TestDecodeTextModeReturnsRaw(t *testing.T) {
	raw := "bareos-dir Version: 23.0.1 (17 December 2023)\n"
	v, err := Decode(raw, protocol.APIText, "jobs")
	require.NoError(t, err)
	assert.Equal(t, raw, v)
}

func TestDecodeJobs(t *testing.T) {
	for _, level := range []protocol.APILevel{protocol.APIJSON, protocol.APIJSONMeta} {
		v, err := Decode(`{"result":{"jobs":[{"jobid":"1"}]}}`, level, "jobs")
		require.NoError(t, err)
		assert.Equal(t, []any{map[string]any{"jobid": "1"}}, v)
	}
}

func TestDecodeEmptyCollectionIsNotMissing(t *testing.T) {
	v, err := Decode(`{"result":{"jobs":[]}}`, protocol.APIJSONMeta, "jobs")
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)
	assert.NotNil(t, v)
}

func TestDecodeMissingKey(t *testing.T) {
	_, err := Decode(`{"result":{}}`, protocol.APIJSONMeta, "jobs")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = Decode(`{"jsonrpc":"2.0","id":null}`, protocol.APIJSON, "jobs")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestDecodeKeyIsLiteral(t *testing.T) {
	// Keys are matched exactly, not as path expressions.
	_, err := Decode(`{"result":{"a":{"b":1}}}`, protocol.APIJSON, "a.b")
	assert.ErrorIs(t, err, ErrMissingKey)

	v, err := Decode(`{"result":{"a.b":1}}`, protocol.APIJSON, "a.b")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)
}

func TestDecodeWholeResult(t *testing.T) {
	v, err := Decode(`{"jsonrpc":"2.0","id":null,"result":{"api":2}}`, protocol.APIJSONMeta, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"api": float64(2)}, v)
}

func TestDecodeTooLarge(t *testing.T) {
	raws := []string{
		"Failed to send result as json. Maybe result message to long?\n",
		`{"result":{"error":"Failed to send result as json. Maybe result message to long?"}}`,
	}
	for _, raw := range raws {
		for _, level := range []protocol.APILevel{protocol.APIText, protocol.APIJSON, protocol.APIJSONMeta} {
			_, err := Decode(raw, level, "jobs")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrResponseTooLarge)
			assert.NotErrorIs(t, err, ErrJSONDecode)
		}
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	for _, raw := range []string{"", "Connecting to Director", `{"result":`} {
		_, err := Decode(raw, protocol.APIJSON, "jobs")
		assert.ErrorIs(t, err, ErrJSONDecode, "%q", raw)
	}
}

func TestDecodeDirectorErrors(t *testing.T) {
	_, err := Decode(`{"result":{"error":"No results to list."}}`, protocol.APIJSON, "jobs")
	var de *DirectorError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "No results to list.", de.Message)

	raw := `{"jsonrpc":"2.0","id":null,"error":{"code":1,"message":"failed","data":{"result":{},"messages":{"error":["llist: is an invalid command.\n"]}}}}`
	_, err = Decode(raw, protocol.APIJSONMeta, "jobs")
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Code)
	assert.Equal(t, "llist: is an invalid command.", de.Message)
	assert.Equal(t, "director error 1: llist: is an invalid command.", de.Error())
}

func TestDecodeInto(t *testing.T) {
	type job struct {
		JobID     string `json:"jobid"`
		Name      string `json:"name"`
		JobStatus string `json:"jobstatus"`
	}
	var jobs []job
	raw := `{"result":{"jobs":[{"jobid":"7","name":"backup-fd","jobstatus":"T"}]}}`
	require.NoError(t, DecodeInto(raw, "jobs", &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job{JobID: "7", Name: "backup-fd", JobStatus: "T"}, jobs[0])

	var n int
	err := DecodeInto(raw, "jobs", &n)
	assert.ErrorIs(t, err, ErrJSONDecode)
}

func TestMeta(t *testing.T) {
	raw := `{"result":{"jobs":[],"meta":{"range":{"filtered":0,"limit":100,"offset":200}}}}`
	r, ok := Meta(raw)
	require.True(t, ok)
	assert.Equal(t, Range{Filtered: 0, Limit: 100, Offset: 200}, r)

	_, ok = Meta(`{"result":{"jobs":[]}}`)
	assert.False(t, ok)
	_, ok = Meta("plain text")
	assert.False(t, ok)
}
