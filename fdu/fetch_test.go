package fdu_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloWorld(t *testing.T) {
	assert.Equal(t, "hello world", fdu.HelloWorld())
}

func TestAdd(t *testing.T) {
	assert.Equal(t, int32(3), fdu.Add(1, 2))
	assert.Equal(t, int32(-1), fdu.Add(1, -2))
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "page body")
	}))
	defer srv.Close()

	body, err := fdu.FetchURL(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "page body", body)
}

func TestFetchURLUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := fdu.FetchURL(context.Background(), srv.URL)
	assert.Error(t, err)
}
