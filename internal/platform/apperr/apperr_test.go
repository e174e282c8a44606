package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindAuthorization, "cannot respond to own proposal")
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.Equal(t, KindAuthorization, KindOf(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestIs_MatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("respond: %w", New(KindAuthorization, "not the counterparty"))
	assert.True(t, errors.Is(err, Authorization))
	assert.False(t, errors.Is(err, Validation))
}

func TestFromStore(t *testing.T) {
	assert.Nil(t, FromStore(nil, "get"))
	assert.Equal(t, KindNotFound, KindOf(FromStore(pgx.ErrNoRows, "get thread")))
	assert.Equal(t, KindTransient, KindOf(FromStore(errors.New("conn reset"), "get thread")))

	conflict := New(KindConflict, "already responded")
	assert.Same(t, conflict, FromStore(conflict, "update").(*Error))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindUpload, nil, "upload"))
}

func TestRetryableAndStatus(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
		status    int
	}{
		{KindValidation, false, http.StatusBadRequest},
		{KindAuthorization, false, http.StatusForbidden},
		{KindNotFound, false, http.StatusNotFound},
		{KindConflict, false, http.StatusConflict},
		{KindTransient, true, http.StatusServiceUnavailable},
		{KindUpload, true, http.StatusBadGateway},
		{KindInternal, false, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := New(tc.kind, "x")
		assert.Equal(t, tc.retryable, Retryable(err), tc.kind.String())
		assert.Equal(t, tc.status, HTTPStatus(err), tc.kind.String())
	}
}

func TestError_Message(t *testing.T) {
	err := Wrap(KindTransient, errors.New("timeout"), "append message")
	assert.Equal(t, "append message: timeout", err.Error())
	assert.Equal(t, "transient", KindTransient.String())
}

func TestToHTTP(t *testing.T) {
	he := ToHTTP(Wrap(KindTransient, errors.New("conn reset"), "append message"))
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)

	body, ok := he.Message.(map[string]interface{})
	if assert.True(t, ok) {
		assert.Equal(t, "transient", body["kind"])
		assert.Equal(t, true, body["retryable"])
		assert.Equal(t, "append message: conn reset", body["error"])
	}

	he = ToHTTP(New(KindAuthorization, "not the counterparty"))
	assert.Equal(t, http.StatusForbidden, he.Code)
	assert.Equal(t, false, he.Message.(map[string]interface{})["retryable"])
}
