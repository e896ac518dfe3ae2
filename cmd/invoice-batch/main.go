package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docuflow/invoice-pipeline/constants"
)

// invoice-batch walks a directory and submits every supported document to a
// running invoiced server, bounded-concurrently. Processing itself stays
// asynchronous; this tool only fans out submissions.
func main() {
	var (
		addr        = flag.String("addr", "http://localhost:8080", "invoiced base URL")
		owner       = flag.String("owner", "", "owner id to submit as (required)")
		dir         = flag.String("dir", ".", "directory to scan for documents")
		concurrency = flag.Int("concurrency", 4, "max parallel submissions")
		timeout     = flag.Duration("timeout", 60*time.Second, "per-upload timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *owner == "" {
		logger.Error("missing required -owner flag")
		os.Exit(2)
	}

	var paths []string
	err := filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := constants.AllowedExtensions[ext]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		logger.Error("directory scan failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		logger.Info("no matching documents", "dir", *dir)
		return
	}
	logger.Info("submitting documents", "count", len(paths), "concurrency", *concurrency)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*concurrency)

	client := &http.Client{Timeout: *timeout}
	var submitted atomic.Int64
	for _, path := range paths {
		g.Go(func() error {
			id, err := submit(ctx, client, *addr, *owner, path)
			if err != nil {
				logger.Error("submit failed", "path", path, "error", err)
				return err
			}
			logger.Info("submitted", "path", path, "invoice_id", id)
			submitted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("batch finished with errors", "submitted", submitted.Load(), "total", len(paths))
		os.Exit(1)
	}
	logger.Info("batch complete", "submitted", submitted.Load())
}

func submit(ctx context.Context, client *http.Client, addr, owner, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/api/invoices", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Owner-ID", owner)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var out struct {
		InvoiceID string `json:"invoiceId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.InvoiceID, nil
}
