package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/rl1809/secondhand-shop/internal/adapter/storage"
	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/core/service"
)

const (
	totalSales  = 20
	totalBuyers = 50
	price       = 1_000
)

func main() {
	ctx := context.Background()

	wallet := storage.NewMemoryWallet()
	registry := service.NewRegistry("registry", wallet, nil, service.WithMetrics(service.NewMetrics(nil)))

	seller := domain.Identity("seller")
	shop, err := registry.CreateShop(ctx, seller)
	if err != nil {
		log.Fatalf("failed to create shop: %v", err)
	}

	sales := make([]uint64, 0, totalSales)
	for i := 0; i < totalSales; i++ {
		id, err := shop.CreateSale(ctx, seller, fmt.Sprintf("item-%d", i), uint256.NewInt(price))
		if err != nil {
			log.Fatalf("failed to create sale: %v", err)
		}
		sales = append(sales, id)
	}

	// Every buyer bids on every sale and the seller accepts them all
	offers := make([][]uint64, totalBuyers)
	for b := 0; b < totalBuyers; b++ {
		buyer := buyerID(b)
		if err := wallet.Deposit(ctx, buyer, uint256.NewInt(price*totalSales)); err != nil {
			log.Fatalf("failed to fund buyer: %v", err)
		}
		for _, saleID := range sales {
			id, err := shop.AddOffer(ctx, buyer, saleID, uint256.NewInt(price))
			if err != nil {
				log.Fatalf("failed to add offer: %v", err)
			}
			if err := shop.RespondToOffer(ctx, seller, id, true); err != nil {
				log.Fatalf("failed to accept offer: %v", err)
			}
			offers[b] = append(offers[b], id)
		}
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent purchases
	var wg sync.WaitGroup
	start := time.Now()

	for b := 0; b < totalBuyers; b++ {
		for _, offerID := range offers[b] {
			wg.Add(1)
			go func(buyer domain.Identity, offerID uint64) {
				defer wg.Done()

				if err := shop.BuyTheSale(ctx, buyer, offerID, uint256.NewInt(price)); err == nil {
					successCount.Add(1)
				} else {
					failCount.Add(1)
				}
			}(buyerID(b), offerID)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()
	attempts := totalSales * totalBuyers

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Sales:            %d\n", totalSales)
	fmt.Printf("Purchase Attempts:%d\n", attempts)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == totalSales && fail == int32(attempts-totalSales) {
		fmt.Printf("PASS: Exactly %d purchases succeeded\n", totalSales)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			totalSales, attempts-totalSales, success, fail)
	}

	// Verify custody matches the ledger
	custody, _ := shop.ContractBalance(ctx)
	blocked := shop.BlockedBalance()
	fmt.Printf("Blocked: %s  Custody: %s\n", blocked.Dec(), custody.Dec())

	if blocked.Eq(custody) && blocked.Uint64() == price*totalSales {
		fmt.Println("PASS: Custody equals blocked funds")
	} else {
		fmt.Println("FAIL: Custody and blocked funds diverged")
	}
}

func buyerID(i int) domain.Identity {
	return domain.Identity(fmt.Sprintf("buyer-%d", i))
}
