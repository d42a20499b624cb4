package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParse(t *testing.T) {
	s := NewSigner("s3cret")
	tok, err := s.Generate("shaperd", time.Minute)
	require.NoError(t, err)
	claims, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "shaperd", claims.Service)

	_, err = NewSigner("other").Parse(tok)
	assert.ErrorIs(t, err, ErrInvalid)

	expired, err := s.Generate("shaperd", -time.Minute)
	require.NoError(t, err)
	_, err = s.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNilSigner(t *testing.T) {
	var s *Signer = NewSigner("")
	assert.Nil(t, s)
	tok, err := s.Generate("x", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestMiddleware(t *testing.T) {
	s := NewSigner("s3cret")
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := s.Middleware(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/bus/site_config", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := s.Generate("shaperd", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/bus/site_config", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	(*Signer)(nil).Middleware(ok).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
