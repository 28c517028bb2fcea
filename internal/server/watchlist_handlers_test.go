package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchlistAddListRemove(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeList(t, rec))

	rec = f.do(t, http.MethodPost, "/api/watchlist/add", map[string]string{
		"code": "601318", "name": "中国平安",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "601318", body["code"])

	rec = f.do(t, http.MethodPost, "/api/watchlist/add", map[string]string{
		"code": "601318", "name": "中国平安",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_exists", decodeMap(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeList(t, rec)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, "601318", entry["code"])
	assert.Equal(t, "sh", entry["market"])

	rec = f.do(t, http.MethodDelete, "/api/watchlist/601318", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/watchlist/601318", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	requireErrorKind(t, rec, kindNotFound)
}

func TestWatchlistAddRejectsInvalid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/watchlist/add", map[string]string{
		"code": "60003", "name": "短码",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)

	rec = f.do(t, http.MethodPost, "/api/watchlist/add", map[string]string{
		"code": "600036",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)
}
