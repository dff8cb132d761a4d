package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultProductID = 5
	customerID       = 1
	extraRequests    = 30
	requestTimeout   = 10 * time.Second
)

type productEnvelope struct {
	Product struct {
		ID    int64  `json:"id"`
		Name  string `json:"nome"`
		Stock int    `json:"estoque"`
	} `json:"produto"`
}

func main() {
	serverURL := getenv("SERVER_URL", defaultServerURL)
	productID := int64(defaultProductID)
	if v := os.Getenv("PRODUCT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid PRODUCT_ID %q: %v", v, err)
		}
		productID = id
	}

	client := &http.Client{Timeout: requestTimeout}
	ctx := context.Background()

	initial, err := fetchProduct(ctx, client, serverURL, productID)
	if err != nil {
		log.Fatalf("failed to read product: %v", err)
	}
	initialStock := initial.Product.Stock
	totalRequests := initialStock + extraRequests

	var successCount, soldOutCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status, err := placeOrder(ctx, client, serverURL, productID)
			switch {
			case err != nil:
				log.Printf("request failed: %v", err)
				otherCount.Add(1)
			case status == http.StatusCreated:
				successCount.Add(1)
			case status == http.StatusBadRequest:
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := fetchProduct(ctx, client, serverURL, productID)
	if err != nil {
		log.Fatalf("failed to read product: %v", err)
	}

	success := int(successCount.Load())
	soldOut := int(soldOutCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Product:          %d (%s)\n", productID, initial.Product.Name)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Stock:      %d\n", final.Product.Stock)
	fmt.Println("==========================================")

	failed := false
	if success != initialStock || soldOut != totalRequests-initialStock {
		fmt.Printf("FAIL: expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
		failed = true
	} else {
		fmt.Printf("PASS: exactly %d orders succeeded\n", success)
	}

	if final.Product.Stock != 0 {
		fmt.Printf("FAIL: expected stock 0, got %d\n", final.Product.Stock)
		failed = true
	} else {
		fmt.Println("PASS: stock depleted to 0, never negative")
	}

	if failed {
		os.Exit(1)
	}
}

func placeOrder(ctx context.Context, client *http.Client, serverURL string, productID int64) (int, error) {
	body, err := json.Marshal(map[string]any{
		"cliente_id": customerID,
		"itens":      []map[string]any{{"produto_id": productID, "quantidade": 1}},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/pedidos", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func fetchProduct(ctx context.Context, client *http.Client, serverURL string, productID int64) (productEnvelope, error) {
	var out productEnvelope

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/produtos/%d", serverURL, productID), nil)
	if err != nil {
		return out, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode product: %w", err)
	}
	return out, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
