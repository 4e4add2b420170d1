package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/shop-image-collector/internal/app"
	"github.com/maltedev/shop-image-collector/internal/config"
	"github.com/maltedev/shop-image-collector/internal/hub"
	"github.com/maltedev/shop-image-collector/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectTargets(t *testing.T) {
	file := filepath.Join(t.TempDir(), "urls.txt")
	content := "# coupang\nhttps://www.coupang.com/vp/products/1\n\n  https://smartstore.naver.com/s/products/2  \n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	targets, err := collectTargets(" https://a.example/p/1 ,,https://b.example/p/2", file, []string{"https://c.example/p/3"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://a.example/p/1",
		"https://b.example/p/2",
		"https://www.coupang.com/vp/products/1",
		"https://smartstore.naver.com/s/products/2",
		"https://c.example/p/3",
	}, targets)
}

func TestCollectTargets_MissingFile(t *testing.T) {
	_, err := collectTargets("", filepath.Join(t.TempDir(), "missing.txt"), nil)
	assert.Error(t, err)
}

func TestCollectTargets_Empty(t *testing.T) {
	targets, err := collectTargets("", "", nil)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

const storefrontPage = `<!DOCTYPE html>
<html><head>
<title>Linen Shirt</title>
<meta property="og:title" content="Linen Shirt">
<meta property="og:image" content="https://cdn.example/linen-shirt.jpg">
</head><body><h1>Linen Shirt</h1></body></html>`

func TestRun_StdoutHoldsOnlyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(storefrontPage))
	}))
	defer srv.Close()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Database.URL = ""

	var stdout, stderr bytes.Buffer
	log := logger.New(&stderr, "debug", "text")

	a, err := app.New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.Close()

	opts := a.DefaultOptions()
	targets := []string{srv.URL + "/products/linen-shirt", "not a url"}

	failed, err := run(context.Background(), a.Hub, targets, &opts, 2, &stdout, false)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	var items []hub.BatchItem
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		var item hub.BatchItem
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item), "stdout line is not a result: %q", scanner.Text())
		items = append(items, item)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, items, 2)
	assert.Equal(t, targets[0], items[0].URL)
	assert.True(t, items[0].Result.Success, items[0].Result.Error)
	assert.False(t, items[1].Result.Success)

	assert.Contains(t, stderr.String(), "collection finished")
}
